// Package ghcred exchanges a GitHub App private key for short-lived
// installation tokens used to push task branches. Token acquisition is
// best-effort: any failure degrades to anonymous git access.
package ghcred

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

const (
	defaultAPIBase = "https://api.github.com"

	// Assertion validity window. Issued-at is backdated to absorb clock skew
	// between the runner and GitHub.
	assertionBackdate = 60 * time.Second
	assertionLifetime = 10 * time.Minute

	// Cached tokens are refreshed this long before GitHub's expiry so a
	// long clone or push never straddles the boundary.
	refreshMargin = 5 * time.Minute
)

// Issuer mints and caches installation tokens.
type Issuer struct {
	client *http.Client
	logger hclog.Logger

	mu          sync.Mutex
	cachedToken string
	cachedUntil time.Time
	now         func() time.Time
}

// NewIssuer builds an issuer with its own pooled HTTP client.
func NewIssuer(logger hclog.Logger) *Issuer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Issuer{
		client: cleanhttp.DefaultPooledClient(),
		logger: logger.Named("ghcred"),
		now:    time.Now,
	}
}

// Token returns a push token, or "" when app credentials are absent or the
// exchange fails. Callers must treat "" as anonymous access, never an error.
func (i *Issuer) Token(ctx context.Context) string {
	appID := os.Getenv("GITHUB_APP_ID")
	installationID := os.Getenv("GITHUB_APP_INSTALLATION_ID")
	privateKey := os.Getenv("GITHUB_APP_PRIVATE_KEY")
	if appID == "" || installationID == "" || privateKey == "" {
		return ""
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cachedToken != "" && i.now().Before(i.cachedUntil) {
		return i.cachedToken
	}

	token, expires, err := i.exchange(ctx, appID, installationID, privateKey)
	if err != nil {
		i.logger.Warn("installation token exchange failed, proceeding anonymously", "error", err)
		return ""
	}
	i.cachedToken = token
	i.cachedUntil = expires.Add(-refreshMargin)
	return token
}

// Reset drops the cached token. Test isolation only.
func (i *Issuer) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cachedToken = ""
	i.cachedUntil = time.Time{}
}

func (i *Issuer) exchange(ctx context.Context, appID, installationID, privateKey string) (string, time.Time, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse app private key: %w", err)
	}
	now := i.now()
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-assertionBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign app assertion: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"permissions": map[string]string{
			"contents":      "write",
			"pull_requests": "write",
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", apiBase(), installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("token exchange returned %d", resp.StatusCode)
	}

	var parsed struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.Token == "" {
		return "", time.Time{}, fmt.Errorf("token response carried no token")
	}
	if parsed.ExpiresAt.IsZero() {
		parsed.ExpiresAt = now.Add(time.Hour)
	}
	return parsed.Token, parsed.ExpiresAt, nil
}

// apiBase reads the API root at call time so tests can point it at a local
// server.
func apiBase() string {
	if v := os.Getenv("GITHUB_API_URL"); v != "" {
		return v
	}
	return defaultAPIBase
}
