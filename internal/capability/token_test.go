package capability

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testSecret = "s3cret"

func TestCanonicalSortsKeysAndEncodesValues(t *testing.T) {
	got := Canonical(Params{"ts": "1700000000", "u": "alice smith", "d": "2025-03-01", "t": "ignored", "ex": "a+b/c"})
	want := "d=2025-03-01&ex=a%2Bb%2Fc&ts=1700000000&u=alice+smith"
	if got != want {
		t.Fatalf("expected canonical %q, got %q", want, got)
	}
}

func TestSignIsDeterministicAndSecretDependent(t *testing.T) {
	params := Params{"u": "alice", "d": "2025-03-01", "ex": "ALL", "ts": "1700000000"}
	first := Sign(params, testSecret)
	second := Sign(params.Clone(), testSecret)
	if first != second {
		t.Fatalf("expected deterministic signature, got %q and %q", first, second)
	}
	if strings.ContainsAny(first, "+/=") {
		t.Fatalf("expected url-safe unpadded token, got %q", first)
	}
	if Sign(params, "other") == first {
		t.Fatalf("expected signature to depend on secret")
	}
	changed := params.Clone()
	changed["ex"] = "bench_press"
	if Sign(changed, testSecret) == first {
		t.Fatalf("expected signature to change when a bound field changes")
	}
}

func TestSignMatchesKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "d=x&u=y"), base64url without padding.
	got := Sign(Params{"u": "y", "d": "x"}, "key")
	if len(got) != 43 {
		t.Fatalf("expected 43 character token, got %d (%q)", len(got), got)
	}
}

func TestVerifyRejectsReplayAgainstDifferentScope(t *testing.T) {
	day := Params{"u": "alice", "scope": "day", "d": "2025-01-01", "ts": "1700000000"}
	token := Sign(day, testSecret)
	if err := Verify(day, token, testSecret); err != nil {
		t.Fatalf("expected day token to verify, got %v", err)
	}
	month := Params{"u": "alice", "scope": "month", "y": "2025", "m": "01", "ts": "1700000000"}
	if err := Verify(month, token, testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature on replay, got %v", err)
	}
	all := Params{"u": "alice", "scope": "all", "ts": "1700000000"}
	if err := Verify(all, token, testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature on replay to all, got %v", err)
	}
}

func TestVerifyErrorTaxonomy(t *testing.T) {
	params := Params{"u": "alice", "ts": "1700000000"}
	token := Sign(params, testSecret)

	cases := []struct {
		name   string
		params Params
		token  string
		secret string
		want   error
	}{
		{name: "missing subject", params: Params{"ts": "1"}, token: token, secret: testSecret, want: ErrMissingParameter},
		{name: "missing ts", params: Params{"u": "alice"}, token: token, secret: testSecret, want: ErrMissingParameter},
		{name: "missing token", params: params, token: "", secret: testSecret, want: ErrMissingParameter},
		{name: "no secret", params: params, token: token, secret: "", want: ErrServerMisconfigured},
		{name: "tampered", params: params, token: token + "x", secret: testSecret, want: ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.params, tc.token, tc.secret)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestIsFreshBoundary(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	if !IsFresh(now.Unix()-172800, now, DefaultMaxAge) {
		t.Fatalf("expected issuedAt = now-172800 to be fresh")
	}
	if IsFresh(now.Unix()-172801, now, DefaultMaxAge) {
		t.Fatalf("expected issuedAt = now-172801 to be expired")
	}
	if !IsFresh(now.Unix()+172800, now, DefaultMaxAge) {
		t.Fatalf("expected future skew within window to be fresh")
	}
	if IsFresh(now.Unix()+172801, now, DefaultMaxAge) {
		t.Fatalf("expected future skew beyond window to be expired")
	}
}

func TestVerifierAuthorize(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	verifier := Verifier{Secret: testSecret, Now: func() time.Time { return now }}

	fresh := Params{"u": "alice", "ts": strconv.FormatInt(now.Unix()-10, 10)}
	grant, err := verifier.Authorize(fresh, Sign(fresh, testSecret))
	if err != nil {
		t.Fatalf("authorize fresh token: %v", err)
	}
	if grant.Subject != "alice" {
		t.Fatalf("expected subject alice, got %q", grant.Subject)
	}

	stale := Params{"u": "alice", "ts": strconv.FormatInt(now.Unix()-172801, 10)}
	if _, err := verifier.Authorize(stale, Sign(stale, testSecret)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	garbage := Params{"u": "alice", "ts": "yesterday"}
	if _, err := verifier.Authorize(garbage, Sign(garbage, testSecret)); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected invalid timestamp, got %v", err)
	}
}

func TestFromValuesKeepsOnlyPresentFields(t *testing.T) {
	values := url.Values{}
	values.Set("u", "alice")
	values.Set("scope", "all")
	values.Set("d", "")
	values.Set("extra", "nope")
	got := FromValues(values, "u", "scope", "d", "y", "m", "ts")
	if len(got) != 2 || got["u"] != "alice" || got["scope"] != "all" {
		t.Fatalf("unexpected params %+v", got)
	}
}
