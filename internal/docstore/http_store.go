package docstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenSource yields the bearer token for each store request.
type TokenSource func(ctx context.Context) (string, error)

func StaticToken(token string) TokenSource {
	token = strings.TrimSpace(token)
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type HTTPStoreOptions struct {
	// BaseURL is the repository root, for example
	// https://api.github.com/repos/{owner}/{repo}. Paths are requested under
	// BaseURL + "/contents/".
	BaseURL        string
	TokenSource    TokenSource
	Branch         string
	CommitterName  string
	CommitterEmail string
	UserAgent      string
	HTTPClient     *http.Client
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Logger         Logger
}

// HTTPStore talks to a repository contents API: base64 content with a "sha"
// version marker per file.
type HTTPStore struct {
	baseURL        string
	tokenSource    TokenSource
	branch         string
	committerName  string
	committerEmail string
	userAgent      string
	httpClient     *http.Client
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	logger         Logger
}

func NewHTTPStore(opts HTTPStoreOptions) *HTTPStore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "liftrelay"
	}
	tokenSource := opts.TokenSource
	if tokenSource == nil {
		tokenSource = StaticToken("")
	}
	return &HTTPStore{
		baseURL:        baseURL,
		tokenSource:    tokenSource,
		branch:         strings.TrimSpace(opts.Branch),
		committerName:  strings.TrimSpace(opts.CommitterName),
		committerEmail: strings.TrimSpace(opts.CommitterEmail),
		userAgent:      userAgent,
		httpClient:     httpClient,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		logger:         opts.Logger,
	}
}

type contentsItem struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Content     string `json:"content,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

type contentsCommitter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type contentsWriteRequest struct {
	Message   string             `json:"message"`
	Content   string             `json:"content,omitempty"`
	SHA       string             `json:"sha,omitempty"`
	Branch    string             `json:"branch,omitempty"`
	Committer *contentsCommitter `json:"committer,omitempty"`
}

type contentsWriteResponse struct {
	Content *contentsItem `json:"content"`
}

func (s *HTTPStore) Get(ctx context.Context, p string) (Document, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return Document{}, err
	}
	payload, err := s.do(ctx, "get", http.MethodGet, p, nil)
	if err != nil {
		return Document{}, err
	}
	var item contentsItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return Document{}, &StoreError{Op: "get", Path: p, StatusCode: http.StatusOK, Message: "expected a file object"}
	}
	if item.Type != "" && item.Type != "file" {
		return Document{}, &StoreError{Op: "get", Path: p, StatusCode: http.StatusOK, Message: "path is a " + item.Type}
	}
	content, err := decodeContent(item.Content)
	if err != nil {
		return Document{}, &StoreError{Op: "get", Path: p, StatusCode: http.StatusOK, Message: "decode content: " + err.Error()}
	}
	return Document{Path: p, Content: content, Version: item.SHA}, nil
}

func (s *HTTPStore) Put(ctx context.Context, p string, content []byte, expectedVersion string) (string, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return "", err
	}
	req := s.writeRequest("Update "+p, expectedVersion)
	req.Content = base64.StdEncoding.EncodeToString(content)
	payload, err := s.do(ctx, "put", http.MethodPut, p, req)
	if err != nil {
		return "", withExpected(err, expectedVersion)
	}
	var out contentsWriteResponse
	if err := json.Unmarshal(payload, &out); err != nil || out.Content == nil {
		return "", &StoreError{Op: "put", Path: p, StatusCode: http.StatusOK, Message: "response carried no content sha"}
	}
	return out.Content.SHA, nil
}

func (s *HTTPStore) List(ctx context.Context, p string) ([]Entry, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	payload, err := s.do(ctx, "list", http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	var items []contentsItem
	if err := json.Unmarshal(payload, &items); err != nil {
		var single contentsItem
		if singleErr := json.Unmarshal(payload, &single); singleErr != nil {
			return nil, &StoreError{Op: "list", Path: p, StatusCode: http.StatusOK, Message: "unexpected listing payload"}
		}
		items = []contentsItem{single}
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entryPath := strings.Trim(item.Path, "/")
		if entryPath == "" {
			entryPath = strings.Trim(p+"/"+item.Name, "/")
		}
		entry := Entry{Name: item.Name, Path: entryPath, Type: EntryFile, Version: item.SHA}
		if item.Type == "dir" {
			entry.Type = EntryDir
			entry.Version = ""
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *HTTPStore) Delete(ctx context.Context, p, version string) error {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return err
	}
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("%w: %s has no version", ErrNotFound, p)
	}
	_, err = s.do(ctx, "delete", http.MethodDelete, p, s.writeRequest("Delete "+p, version))
	return withExpected(err, version)
}

func (s *HTTPStore) writeRequest(message, sha string) contentsWriteRequest {
	req := contentsWriteRequest{Message: message, SHA: sha, Branch: s.branch}
	if s.committerName != "" && s.committerEmail != "" {
		req.Committer = &contentsCommitter{Name: s.committerName, Email: s.committerEmail}
	}
	return req
}

func (s *HTTPStore) contentsURL(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	target := s.baseURL + "/contents/" + strings.Join(segments, "/")
	if p == "" {
		target = s.baseURL + "/contents"
	}
	return target
}

func (s *HTTPStore) do(ctx context.Context, op, method, p string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	target := s.contentsURL(p)
	if method == http.MethodGet && s.branch != "" {
		target += "?ref=" + url.QueryEscape(s.branch)
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, err
		}
		token, err := s.tokenSource(ctx)
		if err != nil {
			return nil, &StoreError{Op: op, Path: p, Message: "obtain token: " + err.Error()}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		req.Header.Set("User-Agent", s.userAgent)
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries && ctx.Err() == nil {
				s.logf("store %s %s: transport error, retrying: %v", op, p, err)
				if waitErr := waitWithContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, &StoreError{Op: op, Path: p, Message: err.Error()}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &StoreError{Op: op, Path: p, StatusCode: resp.StatusCode, Message: readErr.Error()}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < s.maxRetries {
			s.logf("store %s %s: status %d, retrying", op, p, resp.StatusCode)
			if waitErr := waitWithContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return nil, &ConflictError{Path: p}
		case http.StatusUnprocessableEntity:
			// A create over an existing file is rejected for the missing sha.
			if method == http.MethodPut && strings.Contains(strings.ToLower(errPayload.Message), "sha") {
				return nil, &ConflictError{Path: p}
			}
		}
		return nil, &StoreError{Op: op, Path: p, StatusCode: resp.StatusCode, Message: errPayload.Message}
	}
}

func (s *HTTPStore) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *HTTPStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := s.maxDelay
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func withExpected(err error, expected string) error {
	if conflict, ok := err.(*ConflictError); ok {
		conflict.ExpectedVersion = expected
	}
	return err
}

// decodeContent accepts base64 with embedded line breaks, as the contents API
// wraps long payloads.
func decodeContent(raw string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(raw)
	return base64.StdEncoding.DecodeString(cleaned)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
