package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/workout"
)

const (
	testSecret = "test-secret"
	testBase   = "https://lift.test"
)

var testNow = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newTestServer(t *testing.T, mutate func(*ServerConfig)) (*Server, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	cfg := ServerConfig{
		Service:         workout.NewService(store, workout.Options{Now: fixedNow}),
		SigningSecret:   testSecret,
		PublicBaseURL:   testBase,
		DefaultRotation: []string{"Push Day", "Pull Day"},
		Now:             fixedNow,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg), store
}

func testLinks(now time.Time) Links {
	return Links{Base: testBase, Minter: capability.Minter{Secret: testSecret, Now: func() time.Time { return now }}}
}

func mustLink(link string, err error) string {
	if err != nil {
		panic("mint link: " + err.Error())
	}
	return link
}

func doGet(t *testing.T, server http.Handler, target string, asJSON bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func doPost(t *testing.T, server http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, testBase+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func formFromLink(t *testing.T, link string) url.Values {
	t.Helper()
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return parsed.Query()
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, nil)
	rec := doGet(t, server, "/health", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body["status"])
	}
}

func TestRecordIsIdempotentOverHTTP(t *testing.T) {
	server, store := newTestServer(t, nil)
	link := mustLink(testLinks(testNow).Record("alice", "2025-03-01", workout.ItemAll))

	first := doGet(t, server, link, true)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", first.Code, first.Body.String())
	}
	if body := decodeBody(t, first); body["status"] != "recorded" {
		t.Fatalf("expected recorded, got %v", body["status"])
	}
	daily, err := store.Get(context.Background(), "state/2025-03-01.json")
	if err != nil {
		t.Fatalf("daily aggregate missing: %v", err)
	}

	second := doGet(t, server, link, false)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "Already recorded") {
		t.Fatalf("expected already recorded page, got %s", second.Body.String())
	}
	again, err := store.Get(context.Background(), "state/2025-03-01.json")
	if err != nil {
		t.Fatalf("daily aggregate missing after repeat: %v", err)
	}
	if again.Version != daily.Version {
		t.Fatalf("repeat record rewrote the aggregate: %s -> %s", daily.Version, again.Version)
	}
}

func TestRecordRejectsBadLinksBeforeStoreAccess(t *testing.T) {
	server, store := newTestServer(t, nil)
	valid := mustLink(testLinks(testNow).Record("alice", "2025-03-01", "squat"))
	expired := mustLink(testLinks(testNow.Add(-172801*time.Second)).Record("alice", "2025-03-01", "squat"))
	edge := mustLink(testLinks(testNow.Add(-172800*time.Second)).Record("alice", "2025-03-01", "squat"))

	cases := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing item", strings.Replace(valid, "ex=squat&", "", 1), http.StatusBadRequest, "bad_request"},
		{"tampered item", strings.Replace(valid, "ex=squat", "ex=bench", 1), http.StatusForbidden, "invalid_signature"},
		{"expired", expired, http.StatusGone, "expired"},
		{"non numeric ts", testBase + "/record?u=alice&d=2025-03-01&ex=ALL&ts=soon&t=abc", http.StatusBadRequest, "bad_request"},
		{"missing token", testBase + "/record?u=alice&d=2025-03-01&ex=ALL&ts=1", http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doGet(t, server, tc.target, true)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if body := decodeBody(t, rec); body["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["code"])
			}
		})
	}
	if store.Len() != 0 {
		t.Fatalf("rejected links must not write, store has %d documents", store.Len())
	}

	if rec := doGet(t, server, edge, true); rec.Code != http.StatusOK {
		t.Fatalf("link issued exactly at the window edge should pass, got %d", rec.Code)
	}
}

func TestMisconfiguredServerAnswers500(t *testing.T) {
	server, _ := newTestServer(t, func(cfg *ServerConfig) {
		cfg.Missing = []string{"store credentials (github token or app)"}
	})
	link := mustLink(testLinks(testNow).Record("alice", "2025-03-01", "squat"))
	rec := doGet(t, server, link, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["code"] != "server_misconfig" {
		t.Fatalf("expected server_misconfig, got %v", body["code"])
	}
	if strings.Contains(rec.Body.String(), testSecret) {
		t.Fatalf("error body leaked the signing secret")
	}
}

func TestDeleteMonthConfirmThenExecute(t *testing.T) {
	server, _ := newTestServer(t, nil)
	record := mustLink(testLinks(testNow).Record("alice", "2025-03-01", workout.ItemAll))
	if rec := doGet(t, server, record, true); rec.Code != http.StatusOK {
		t.Fatalf("record failed: %d", rec.Code)
	}

	link := mustLink(testLinks(testNow).Delete(workout.DeleteRequest{Subject: "alice", Scope: workout.ScopeMonth, Year: "2025", Month: "03"}))
	confirm := doGet(t, server, link, false)
	if confirm.Code != http.StatusOK {
		t.Fatalf("expected confirmation page, got %d (%s)", confirm.Code, confirm.Body.String())
	}
	if !strings.Contains(confirm.Body.String(), `name="scope" value="month"`) {
		t.Fatalf("confirmation form missing signed fields: %s", confirm.Body.String())
	}

	rec := doPost(t, server, DeletePath, formFromLink(t, link))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["deleted"] != float64(1) || body["absent"] != false {
		t.Fatalf("expected 1 deleted from an existing month, got %v", body)
	}

	again := doPost(t, server, DeletePath, formFromLink(t, link))
	if body := decodeBody(t, again); again.Code != http.StatusOK || body["deleted"] != float64(0) || body["absent"] != true {
		t.Fatalf("expected repeated delete to report nothing stored, got %d %v", again.Code, body)
	}

	activity := doGet(t, server, testBase+"/activity?u=alice", true)
	if activity.Code != http.StatusOK {
		t.Fatalf("activity failed: %d", activity.Code)
	}
	var report struct {
		Activity workout.Activity `json:"activity"`
	}
	if err := json.NewDecoder(activity.Body).Decode(&report); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if len(report.Activity.Days) != 0 {
		t.Fatalf("expected no March days after delete, got %+v", report.Activity.Days)
	}
}

func TestDeleteRejectsScopeReplay(t *testing.T) {
	server, _ := newTestServer(t, nil)
	link := mustLink(testLinks(testNow).Delete(workout.DeleteRequest{Subject: "alice", Scope: workout.ScopeDay, Date: "2025-01-01"}))
	form := formFromLink(t, link)
	form.Del("d")
	form.Set("scope", "month")
	form.Set("y", "2025")
	form.Set("m", "01")

	rec := doPost(t, server, DeletePath, form)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteValidatesScopeAndDate(t *testing.T) {
	server, _ := newTestServer(t, nil)
	cases := []url.Values{
		{"u": {"alice"}, "scope": {"year"}, "ts": {"1"}, "t": {"x"}},
		{"u": {"alice"}, "scope": {"day"}, "d": {"2025-02-30"}, "ts": {"1"}, "t": {"x"}},
		{"u": {"alice"}, "scope": {"month"}, "y": {"2025"}, "m": {"13"}, "ts": {"1"}, "t": {"x"}},
	}
	for _, form := range cases {
		rec := doPost(t, server, DeletePath, form)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", form, rec.Code)
		}
	}
}

func TestSavePlanFromBracketedForm(t *testing.T) {
	server, store := newTestServer(t, nil)
	link := mustLink(testLinks(testNow).Plan("alice"))
	form := formFromLink(t, link)
	form.Set("days[0][title]", "Push Day")
	form.Set("days[0][target_muscles]", "chest, triceps")
	form.Set("days[0][exercises][0][name]", "Bench Press")
	form.Set("days[0][exercises][0][sets]", "4")
	form.Set("days[0][exercises][0][reps]", "8")
	form.Set("days[0][exercises][1][name]", "")
	form.Set("days[1][title]", "Empty Day")

	rec := doPost(t, server, PlanPath, form)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["saved"] != float64(1) {
		t.Fatalf("expected 1 saved day, got %v", body["saved"])
	}
	if _, err := store.Get(context.Background(), "workout_splits/alice/Push_Day.json"); err != nil {
		t.Fatalf("plan document missing: %v", err)
	}

	page := doGet(t, server, link, false)
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), `value="Push Day"`) {
		t.Fatalf("plan form should show the saved day, got %d", page.Code)
	}

	empty := formFromLink(t, link)
	empty.Set("days[0][title]", "Nothing")
	if rec := doPost(t, server, "/customize", empty); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when no day survives, got %d", rec.Code)
	}
}

func TestActivityDeleteLinksAreFresh(t *testing.T) {
	server, _ := newTestServer(t, nil)
	for _, date := range []string{"2025-02-27", "2025-03-01"} {
		link := mustLink(testLinks(testNow).Record("alice", date, "squat"))
		if rec := doGet(t, server, link, true); rec.Code != http.StatusOK {
			t.Fatalf("record %s failed: %d", date, rec.Code)
		}
	}

	rec := doGet(t, server, testBase+"/activity?u=alice&format=json", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Activity    workout.Activity `json:"activity"`
		DeleteLinks struct {
			Days   map[string]string `json:"days"`
			Months map[string]string `json:"months"`
			All    string            `json:"all"`
		} `json:"deleteLinks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Activity.TotalDays != 2 || len(body.DeleteLinks.Days) != 2 || len(body.DeleteLinks.Months) != 2 {
		t.Fatalf("unexpected report: %+v", body)
	}

	verifier := capability.Verifier{Secret: testSecret, Now: fixedNow}
	for _, link := range []string{body.DeleteLinks.Days["2025-03-01"], body.DeleteLinks.Months["2025-02"], body.DeleteLinks.All} {
		params, token, err := capability.ParseURL(link)
		if err != nil {
			t.Fatalf("parse %s: %v", link, err)
		}
		if _, err := verifier.Authorize(params, token); err != nil {
			t.Fatalf("activity link %s does not verify: %v", link, err)
		}
	}

	html := doGet(t, server, testBase+"/activity?u=alice", false)
	if !strings.Contains(html.Body.String(), "2 of 2 days completed") {
		t.Fatalf("unexpected activity page: %s", html.Body.String())
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	server, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/activity", nil)
	req.Header.Set("X-Correlation-Id", "corr_1")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Header().Get("X-Correlation-Id") != "corr_1" {
		t.Fatalf("expected correlation header echoed, got %q", rec.Header().Get("X-Correlation-Id"))
	}
	if body := decodeBody(t, rec); body["correlationId"] != "corr_1" {
		t.Fatalf("expected correlation id in body, got %v", body["correlationId"])
	}

	generated := doGet(t, server, "/health", false)
	if generated.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("expected a generated correlation id")
	}
}

func TestRateLimit(t *testing.T) {
	server, _ := newTestServer(t, func(cfg *ServerConfig) {
		cfg.RateLimitMax = 1
		cfg.RateLimitWindow = time.Minute
	})
	if rec := doGet(t, server, "/activity?u=alice", true); rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}
	rec := doGet(t, server, "/activity?u=alice", true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterDropsExpiredClients(t *testing.T) {
	limiter := &rateLimiter{window: time.Minute, max: 1, entries: map[string]rateEntry{}}
	for i := 0; i < 50; i++ {
		limiter.allow("10.0.0."+strconv.Itoa(i), testNow)
	}
	if len(limiter.entries) != 50 {
		t.Fatalf("expected 50 tracked clients, got %d", len(limiter.entries))
	}
	later := testNow.Add(2 * time.Minute)
	if !limiter.allow("10.0.1.1", later) {
		t.Fatalf("expected a new client to be allowed")
	}
	if len(limiter.entries) != 1 {
		t.Fatalf("expected expired clients to be dropped, %d remain", len(limiter.entries))
	}
	if !limiter.allow("10.0.0.1", later) {
		t.Fatalf("expected a pruned client to start a fresh window")
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t, nil)
	if rec := doGet(t, server, "/v1/anything", false); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPut, "/record", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestParsePlanFormOrdersByIndex(t *testing.T) {
	form := url.Values{
		"days[2][title]":                 {"Second"},
		"days[2][exercises][5][name]":    {"Row"},
		"days[2][exercises][1][name]":    {"Pull-up"},
		"days[0][title]":                 {"First"},
		"days[0][target_muscles][]":      {"legs", "core"},
		"days[0][exercises][0][name]":    {"Squat"},
		"days[0][exercises][0][reps]":    {"5"},
		"unrelated":                      {"x"},
		"days[0][exercises][0][unknown]": {"ignored"},
	}
	days, err := parsePlanForm(form)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(days) != 2 || days[0].Title != "First" || days[1].Title != "Second" {
		t.Fatalf("unexpected days: %+v", days)
	}
	if got := days[1].Exercises; len(got) != 2 || got[0].Name != "Pull-up" || got[1].Name != "Row" {
		t.Fatalf("unexpected exercise order: %+v", got)
	}
	if got := days[0].TargetMuscles; len(got) != 2 {
		t.Fatalf("expected repeated muscles, got %v", got)
	}

	if _, err := parsePlanForm(url.Values{"days[99][title]": {"x"}}); err == nil {
		t.Fatalf("expected out of range day index to fail")
	}
}

func TestDailyLinks(t *testing.T) {
	links := testLinks(testNow)
	day := workout.PlanDay{Title: "Push Day", Exercises: []workout.Exercise{{ID: "bench", Name: "Bench"}, {ID: "dips", Name: "Dips"}}}
	out, err := links.Daily("alice", "2025-03-01", day)
	if err != nil {
		t.Fatalf("daily links: %v", err)
	}
	if len(out) != 9 {
		t.Fatalf("expected 9 links, got %d", len(out))
	}
	if !strings.HasPrefix(out[0].URL, testBase+"/record?d=2025-03-01&ex=bench&ts=") {
		t.Fatalf("unexpected first link %s", out[0].URL)
	}
	if out[5].URL != testBase+"/activity?u=alice" {
		t.Fatalf("unexpected activity link %s", out[5].URL)
	}
}
