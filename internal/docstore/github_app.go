package docstore

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type GitHubAppOptions struct {
	AppID          string
	InstallationID string
	PrivateKeyPEM  []byte
	// APIBaseURL defaults to https://api.github.com.
	APIBaseURL string
	HTTPClient *http.Client
	Now        func() time.Time
}

// GitHubAppTokenSource exchanges a short-lived app JWT for an installation
// access token and caches it until a minute before it expires.
type GitHubAppTokenSource struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	apiBaseURL     string
	httpClient     *http.Client
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewGitHubAppTokenSource(opts GitHubAppOptions) (*GitHubAppTokenSource, error) {
	appID := strings.TrimSpace(opts.AppID)
	installationID := strings.TrimSpace(opts.InstallationID)
	if appID == "" || installationID == "" {
		return nil, fmt.Errorf("github app id and installation id are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(opts.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(opts.APIBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = "https://api.github.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &GitHubAppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		apiBaseURL:     apiBaseURL,
		httpClient:     httpClient,
		now:            now,
	}, nil
}

// Token satisfies TokenSource.
func (g *GitHubAppTokenSource) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.token != "" && now.Before(g.expiresAt.Add(-time.Minute)) {
		return g.token, nil
	}
	appJWT, err := g.appJWT(now)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", g.apiBaseURL, g.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &StoreError{Op: "token", Path: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode installation token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("installation token response carried no token")
	}
	g.token = out.Token
	g.expiresAt = out.ExpiresAt
	if g.expiresAt.IsZero() {
		g.expiresAt = now.Add(time.Hour)
	}
	return g.token, nil
}

func (g *GitHubAppTokenSource) appJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    g.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("sign github app jwt: %w", err)
	}
	return signed, nil
}
