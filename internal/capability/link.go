package capability

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Minter signs parameter sets into links for a fixed secret and clock.
type Minter struct {
	Secret string
	Now    func() time.Time
}

// Stamp returns params with the issuance time set to the minter's clock.
func (m Minter) Stamp(params Params) Params {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	out := params.Clone()
	out[ParamIssuedAt] = strconv.FormatInt(now.Unix(), 10)
	return out
}

// Link stamps params and returns base with the signed query appended.
func (m Minter) Link(base string, params Params) (string, error) {
	return BuildURL(base, m.Stamp(params), m.Secret)
}

// BuildURL appends params plus t=sign(params) to base. Params are emitted in
// key order with the token last.
func BuildURL(base string, params Params, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: signing secret is not set", ErrServerMisconfigured)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamToken {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	parts = append(parts, ParamToken+"="+url.QueryEscape(Sign(params, secret)))
	joiner := "?"
	if strings.Contains(base, "?") {
		joiner = "&"
	}
	return base + joiner + strings.Join(parts, "&"), nil
}

// ParseURL splits a signed link into its bound params and token.
func ParseURL(raw string) (Params, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", err
	}
	values := parsed.Query()
	params := Params{}
	for key := range values {
		if key == ParamToken {
			continue
		}
		params[key] = values.Get(key)
	}
	return params, values.Get(ParamToken), nil
}
