package docstore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newContentsFixture(t *testing.T) (*HTTPStore, *MemoryStore) {
	t.Helper()
	mem := NewMemoryStore()
	server := httptest.NewServer(NewContentsHandler(mem, ContentsHandlerOptions{Prefix: "/repos/octo/workouts", Token: "tok"}))
	t.Cleanup(server.Close)
	store := NewHTTPStore(HTTPStoreOptions{
		BaseURL:     server.URL + "/repos/octo/workouts",
		TokenSource: StaticToken("tok"),
		HTTPClient:  server.Client(),
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	return store, mem
}

func TestHTTPStoreRoundTripThroughContentsHandler(t *testing.T) {
	ctx := context.Background()
	store, mem := newContentsFixture(t)

	body := []byte(strings.Repeat(`{"date":"2025-03-01","completed":["ALL"]}`, 5))
	version, err := store.Put(ctx, "User History/alice/2025/03/2025-03-01.json", body, "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	doc, err := mem.Get(ctx, "User History/alice/2025/03/2025-03-01.json")
	if err != nil {
		t.Fatalf("expected document in backing store: %v", err)
	}
	if doc.Version != version {
		t.Fatalf("expected version %s, got %s", version, doc.Version)
	}

	got, err := store.Get(ctx, "User History/alice/2025/03/2025-03-01.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Content) != string(body) {
		t.Fatalf("content mismatch after wrapped base64 round trip: %q", got.Content)
	}

	entries, err := store.List(ctx, "User History/alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != EntryDir || entries[0].Name != "2025" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Path != "User History/alice/2025" {
		t.Fatalf("unexpected entry path %q", entries[0].Path)
	}

	if err := store.Delete(ctx, "User History/alice/2025/03/2025-03-01.json", version); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "User History/alice/2025/03/2025-03-01.json"); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestHTTPStoreMapsStaleVersionToConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newContentsFixture(t)
	v1, err := store.Put(ctx, "state/2025-03-01.json", []byte(`{}`), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Put(ctx, "state/2025-03-01.json", []byte(`{"a":1}`), v1); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err = store.Put(ctx, "state/2025-03-01.json", []byte(`{"a":2}`), v1)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.ExpectedVersion != v1 {
		t.Fatalf("expected conflict to carry expected version %s, got %s", v1, conflict.ExpectedVersion)
	}
	if err := store.Delete(ctx, "state/2025-03-01.json", v1); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on stale delete, got %v", err)
	}
}

func TestHTTPStoreDeleteSubtreeOverContentsAPI(t *testing.T) {
	ctx := context.Background()
	store, mem := newContentsFixture(t)
	for _, p := range []string{
		"User History/alice/2025/03/2025-03-01.json",
		"User History/alice/2025/03/2025-03-02.json",
		"User History/alice/2025-03/2025-03-03.json",
	} {
		seed(t, mem, p, map[string]string{})
	}
	result, err := DeleteSubtree(ctx, store, "User History/alice/2025/03")
	if err != nil {
		t.Fatalf("delete subtree: %v", err)
	}
	if result.Deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", result.Deleted)
	}
	if mem.Len() != 1 {
		t.Fatalf("expected legacy document to remain, got %d documents", mem.Len())
	}
}

func TestHTTPStoreRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"retry"}`))
			return
		}
		if r.URL.Path != "/repos/o/r/contents/state/2025-03-01.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("ref") != "data" {
			t.Errorf("expected branch ref to be forwarded, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"file","name":"2025-03-01.json","path":"state/2025-03-01.json","sha":"abc","content":"e30=\n","encoding":"base64"}`))
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPStoreOptions{BaseURL: server.URL + "/repos/o/r", Branch: "data", HTTPClient: server.Client(), BaseDelay: time.Millisecond})
	doc, err := store.Get(context.Background(), "state/2025-03-01.json")
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if doc.Version != "abc" || string(doc.Content) != "{}" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPStoreSurfacesStatusInStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPStoreOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := store.Put(context.Background(), "state/x.json", []byte(`{}`), "")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
	if storeErr.StatusCode != http.StatusForbidden || !strings.Contains(storeErr.Error(), "403") {
		t.Fatalf("expected status 403 in error, got %v", storeErr)
	}
}

func TestHTTPStoreSendsBranchAndCommitter(t *testing.T) {
	var seen contentsWriteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.EscapedPath() != "/contents/workout_splits/alice/Leg_plus_Abs_Day.json" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &seen)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"content":{"sha":"new"}}`))
	}))
	defer server.Close()

	store := NewHTTPStore(HTTPStoreOptions{
		BaseURL:        server.URL,
		Branch:         "main",
		CommitterName:  "liftrelay",
		CommitterEmail: "bot@example.com",
		HTTPClient:     server.Client(),
	})
	version, err := store.Put(context.Background(), "workout_splits/alice/Leg_plus_Abs_Day.json", []byte(`{}`), "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if version != "new" {
		t.Fatalf("expected version new, got %s", version)
	}
	if seen.Branch != "main" || seen.Committer == nil || seen.Committer.Email != "bot@example.com" {
		t.Fatalf("expected branch and committer in body, got %+v", seen)
	}
	if seen.SHA != "" {
		t.Fatalf("expected no sha on create, got %q", seen.SHA)
	}
}

func TestGitHubAppTokenSourceCachesInstallationToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/app/installations/99/access_tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(func() time.Time { return now }))
		if err != nil || claims.Issuer != "1234" {
			t.Errorf("unexpected app jwt: %v (issuer %q)", err, claims.Issuer)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"ghs_install","expires_at":"2025-03-01T13:00:00Z"}`))
	}))
	defer server.Close()

	source, err := NewGitHubAppTokenSource(GitHubAppOptions{
		AppID:          "1234",
		InstallationID: "99",
		PrivateKeyPEM:  pemBytes,
		APIBaseURL:     server.URL,
		HTTPClient:     server.Client(),
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}
	for i := 0; i < 3; i++ {
		token, err := source.Token(context.Background())
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "ghs_install" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected cached token after first exchange, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestContentsHandlerRejectsBadCredentials(t *testing.T) {
	server := httptest.NewServer(NewContentsHandler(NewMemoryStore(), ContentsHandlerOptions{Token: "tok"}))
	defer server.Close()
	store := NewHTTPStore(HTTPStoreOptions{BaseURL: server.URL, TokenSource: StaticToken("wrong"), HTTPClient: server.Client()})
	_, err := store.Get(context.Background(), "state/x.json")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 store error, got %v", err)
	}
}
