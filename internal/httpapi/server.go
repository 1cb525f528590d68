package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/workout"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	Service         *workout.Service
	SigningSecret   string
	MaxAge          time.Duration
	PublicBaseURL   string
	DefaultRotation []string
	// Missing names required settings that are absent. Every route that
	// touches the store answers server_misconfig while it is non-empty.
	Missing         []string
	Now             func() time.Time
	Logger          Logger
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	cfg         ServerConfig
	router      *mux.Router
	verifier    capability.Verifier
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	entries   map[string]rateEntry
	nextPrune time.Time
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type correlationKey struct{}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = capability.DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		cfg:         cfg,
		verifier:    capability.Verifier{Secret: cfg.SigningSecret, MaxAge: cfg.MaxAge, Now: cfg.Now},
		rateLimiter: limiter,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withCorrelationID, s.withRequestLog, s.withRateLimit)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	for _, p := range []string{RecordPath, "/submit"} {
		r.HandleFunc(p, s.handleRecord).Methods(http.MethodGet)
	}
	r.HandleFunc(DeletePath, s.handleDeleteConfirm).Methods(http.MethodGet)
	r.HandleFunc(DeletePath, s.handleDelete).Methods(http.MethodPost)
	for _, p := range []string{PlanPath, "/customize"} {
		r.HandleFunc(p, s.handlePlanForm).Methods(http.MethodGet)
		r.HandleFunc(p, s.handleSavePlan).Methods(http.MethodPost)
	}
	r.HandleFunc(ActivityPath, s.handleActivity).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if len(s.cfg.Missing) > 0 || s.cfg.Service == nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	req, signed, err := parseRecord(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ready(); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, authErr := authorizeLink(s.verifier, signed); authErr != nil {
		s.fail(w, r, authErr)
		return
	}
	// Writes run to completion even if the client goes away.
	result, err := s.cfg.Service.Record(context.WithoutCancel(r.Context()), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := "recorded"
	message := fmt.Sprintf("Recorded %s for %s.", displayItem(result.Item), result.Date)
	if result.AlreadyRecorded() {
		status = "already_recorded"
		message = fmt.Sprintf("Already recorded %s for %s.", displayItem(result.Item), result.Date)
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          status,
			"subject":         result.Subject,
			"date":            result.Date,
			"item":            result.Item,
			"dailyAlreadySet": result.DailyAlreadySet,
			"userAlreadySet":  result.UserAlreadySet,
			"correlationId":   getCorrelationID(r),
		})
		return
	}
	renderPage(w, http.StatusOK, "message", page{
		Title:         "Nice work",
		Message:       message,
		CorrelationID: getCorrelationID(r),
		Links:         []Link{{Label: "My activity", URL: s.links(r).Activity(result.Subject)}},
	})
}

func (s *Server) handleDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	req, signed, err := parseDelete(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, authErr := authorizeLink(s.verifier, signed); authErr != nil {
		s.fail(w, r, authErr)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"confirm":       true,
			"scope":         req.Scope,
			"target":        req.Describe(),
			"correlationId": getCorrelationID(r),
		})
		return
	}
	fields := make([]hiddenField, 0, len(signed.params)+1)
	for _, name := range workout.SignedFields(req.Scope) {
		fields = append(fields, hiddenField{Name: name, Value: signed.params[name]})
	}
	fields = append(fields, hiddenField{Name: capability.ParamToken, Value: signed.token})
	renderPage(w, http.StatusOK, "confirm", page{
		Title:         "Delete " + req.Describe() + "?",
		Message:       "This permanently removes " + req.Describe() + " for " + req.Subject + ".",
		CorrelationID: getCorrelationID(r),
		Danger:        true,
		Action:        DeletePath,
		Fields:        fields,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	req, signed, err := parseDelete(r.Form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ready(); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, authErr := authorizeLink(s.verifier, signed); authErr != nil {
		s.fail(w, r, authErr)
		return
	}
	result, err := s.cfg.Service.Delete(context.WithoutCancel(r.Context()), req)
	if err != nil {
		ae := toAuthError(err)
		if ae.code == "partial_failure" {
			ae.message = fmt.Sprintf("deleted %d document(s) before failing: %v", result.Deleted, err)
		}
		s.fail(w, r, ae)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "deleted",
			"scope":         result.Scope,
			"deleted":       result.Deleted,
			"absent":        result.Absent,
			"correlationId": getCorrelationID(r),
		})
		return
	}
	message := fmt.Sprintf("Removed %d document(s): %s.", result.Deleted, req.Describe())
	if result.Absent {
		message = "Nothing stored for " + req.Describe() + "; nothing was deleted."
	}
	renderPage(w, http.StatusOK, "message", page{
		Title:         "Deleted",
		Message:       message,
		CorrelationID: getCorrelationID(r),
		Links:         []Link{{Label: "My activity", URL: s.links(r).Activity(req.Subject)}},
	})
}

func (s *Server) handlePlanForm(w http.ResponseWriter, r *http.Request) {
	subject, signed, err := parsePlanAccess(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ready(); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, authErr := authorizeLink(s.verifier, signed); authErr != nil {
		s.fail(w, r, authErr)
		return
	}
	days, err := s.cfg.Service.LoadPlan(r.Context(), subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(days) == 0 {
		for _, title := range s.cfg.DefaultRotation {
			days = append(days, workout.PlanDay{Title: title})
		}
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"subject":       subject,
			"days":          days,
			"correlationId": getCorrelationID(r),
		})
		return
	}
	renderPage(w, http.StatusOK, "plan", page{
		Title:         "Customize your plan",
		CorrelationID: getCorrelationID(r),
		Action:        r.URL.Path,
		Fields: []hiddenField{
			{Name: capability.ParamSubject, Value: subject},
			{Name: capability.ParamIssuedAt, Value: signed.params[capability.ParamIssuedAt]},
			{Name: capability.ParamToken, Value: signed.token},
		},
		Plan: planViews(days),
	})
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	subject, signed, err := parsePlanAccess(r.Form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	days, err := parsePlanForm(r.PostForm)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ready(); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, authErr := authorizeLink(s.verifier, signed); authErr != nil {
		s.fail(w, r, authErr)
		return
	}
	result, err := s.cfg.Service.SavePlan(context.WithoutCancel(r.Context()), subject, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "saved",
			"saved":         result.Written,
			"unchanged":     result.Skipped,
			"correlationId": getCorrelationID(r),
		})
		return
	}
	renderPage(w, http.StatusOK, "message", page{
		Title:         "Plan saved",
		Message:       fmt.Sprintf("Saved %d day(s), %d unchanged.", result.Written, result.Skipped),
		CorrelationID: getCorrelationID(r),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get(capability.ParamSubject))
	if subject == "" {
		s.fail(w, r, fmt.Errorf("%w: %s", capability.ErrMissingParameter, capability.ParamSubject))
		return
	}
	if err := s.ready(); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.cfg.Service.Activity(r.Context(), subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := page{
		Title:         "Activity for " + subject,
		CorrelationID: getCorrelationID(r),
		Activity:      &report,
		DayLinks:      map[string]string{},
		MonthLinks:    map[string]string{},
	}
	links := s.links(r)
	for _, day := range report.Days {
		u, err := links.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeDay, Date: day.Date})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.DayLinks[day.Date] = u
	}
	for _, m := range report.Months {
		u, err := links.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeMonth, Year: m.Year, Month: m.Month})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.MonthLinks[m.Year+"-"+m.Month] = u
	}
	if report.TotalDays > 0 {
		data.AllLink, err = links.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeAll})
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"activity": report,
			"deleteLinks": map[string]any{
				"days":   data.DayLinks,
				"months": data.MonthLinks,
				"all":    data.AllLink,
			},
			"correlationId": getCorrelationID(r),
		})
		return
	}
	renderPage(w, http.StatusOK, "activity", data)
}

// ready reports missing configuration before any store access.
func (s *Server) ready() error {
	if len(s.cfg.Missing) > 0 {
		return fmt.Errorf("%w: missing %s", capability.ErrServerMisconfigured, strings.Join(s.cfg.Missing, ", "))
	}
	if s.cfg.Service == nil {
		return fmt.Errorf("%w: document store is not available", capability.ErrServerMisconfigured)
	}
	return nil
}

// links mints against the configured public base URL, or the request's own
// origin when none is set.
func (s *Server) links(r *http.Request) Links {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return Links{Base: base, Minter: capability.Minter{Secret: s.cfg.SigningSecret, Now: s.cfg.Now}}
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, r, &authError{status: http.StatusRequestEntityTooLarge, code: "payload_too_large", message: "request body exceeds configured limit"})
			return false
		}
		s.fail(w, r, &authError{status: http.StatusBadRequest, code: "bad_request", message: "invalid form body"})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAuthError(err)
	correlationID := getCorrelationID(r)
	s.logf("request %s %s failed: code=%s status=%d correlation=%s: %s", r.Method, r.URL.Path, ae.code, ae.status, correlationID, ae.message)
	if wantsJSON(r) {
		writeError(w, ae.status, ae.code, ae.message, correlationID)
		return
	}
	renderPage(w, ae.status, "message", page{
		Title:         errorTitle(ae),
		Message:       ae.message,
		CorrelationID: correlationID,
		Danger:        true,
	})
}

func errorTitle(ae *authError) string {
	switch ae.code {
	case "expired":
		return "Link expired"
	case "invalid_signature":
		return "Invalid link"
	case "bad_request":
		return "Bad request"
	default:
		return "Something went wrong"
	}
}

func displayItem(item string) string {
	switch item {
	case workout.ItemAll:
		return "the whole workout"
	case workout.ItemSkip:
		return "a skipped day"
	default:
		return item
	}
}

func (s *Server) withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logf("%s %s %d %s correlation=%s", r.Method, r.URL.Path, rec.status, time.Since(started).Round(time.Millisecond), getCorrelationID(r))
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.rateLimiter.allow(clientIP(r), s.cfg.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", getCorrelationID(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func getCorrelationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationKey{}).(string); ok {
		return id
	}
	return r.Header.Get("X-Correlation-Id")
}

func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Expired windows are dropped at most once per window.
	if !now.Before(r.nextPrune) {
		for k, e := range r.entries {
			if now.After(e.resetAt) {
				delete(r.entries, k)
			}
		}
		r.nextPrune = now.Add(r.window)
	}

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
