package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	ParamSubject  = "u"
	ParamIssuedAt = "ts"
	ParamToken    = "t"

	// DefaultMaxAge is the freshness window applied on both sides of now.
	DefaultMaxAge = 172800 * time.Second
)

var (
	ErrMissingParameter    = errors.New("missing parameter")
	ErrServerMisconfigured = errors.New("server misconfigured")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrExpired             = errors.New("link expired")
)

// Params is the set of string parameters bound into a token. The token
// itself is never part of the set.
type Params map[string]string

// FromValues keeps only the named fields that are present and non-empty, so
// the verifier rebuilds exactly the set the signer bound.
func FromValues(values url.Values, fields ...string) Params {
	out := Params{}
	for _, field := range fields {
		value := strings.TrimSpace(values.Get(field))
		if value == "" {
			continue
		}
		out[field] = value
	}
	return out
}

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Canonical renders keys in lexicographic order as key=percent-encoded-value
// joined by "&".
func Canonical(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamToken {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

func Sign(params Params, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(Canonical(params)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks presence of the subject, issuance time and token, then the
// signature. Freshness is a separate check.
func Verify(params Params, token, secret string) error {
	if strings.TrimSpace(params[ParamSubject]) == "" {
		return fmt.Errorf("%w: %s", ErrMissingParameter, ParamSubject)
	}
	if strings.TrimSpace(params[ParamIssuedAt]) == "" {
		return fmt.Errorf("%w: %s", ErrMissingParameter, ParamIssuedAt)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: %s", ErrMissingParameter, ParamToken)
	}
	if secret == "" {
		return fmt.Errorf("%w: signing secret is not set", ErrServerMisconfigured)
	}
	expected := Sign(params, secret)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrInvalidSignature
	}
	return nil
}

func IsFresh(issuedAt int64, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	delta := now.Unix() - issuedAt
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(maxAge/time.Second)
}

func ParseIssuedAt(raw string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	return ts, nil
}

type Grant struct {
	Subject  string
	IssuedAt time.Time
	Params   Params
}

type Verifier struct {
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

// Authorize runs Verify and then the freshness window check.
func (v Verifier) Authorize(params Params, token string) (Grant, error) {
	if err := Verify(params, token, v.Secret); err != nil {
		return Grant{}, err
	}
	ts, err := ParseIssuedAt(params[ParamIssuedAt])
	if err != nil {
		return Grant{}, err
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if !IsFresh(ts, now, v.MaxAge) {
		return Grant{}, ErrExpired
	}
	return Grant{
		Subject:  params[ParamSubject],
		IssuedAt: time.Unix(ts, 0).UTC(),
		Params:   params.Clone(),
	}, nil
}
