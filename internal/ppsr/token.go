package ppsr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carverify/carverify/internal/metrics"
)

// refreshSkew is how long before expiry a cached token is replaced.
const refreshSkew = 60 * time.Second

// AccessToken is a gateway bearer token. It only ever lives in memory.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the token can still be used at now.
func (t AccessToken) Fresh(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-refreshSkew))
}

// TokenCache issues client-credentials tokens and keeps the latest one.
// Concurrent callers that find the token stale may each refresh it; the
// grant is idempotent so the last writer simply wins. The mutex only guards
// the cached value.
type TokenCache struct {
	endpoint     string
	clientID     string
	clientSecret string
	scope        string
	http         *http.Client
	now          func() time.Time

	mu      sync.Mutex
	current AccessToken
}

// NewTokenCache returns an empty cache for the given token endpoint.
func NewTokenCache(endpoint, clientID, clientSecret, scope string, hc *http.Client) *TokenCache {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenCache{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		http:         hc,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

// Token returns the cached token while it is fresh and requests a new one
// otherwise.
func (c *TokenCache) Token(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur.Fresh(c.now()) {
		return cur, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("token", "error").Inc()
		return AccessToken{}, err
	}
	metrics.GatewayRequests.WithLabelValues("token", "ok").Inc()

	c.mu.Lock()
	c.current = tok
	c.mu.Unlock()
	return tok, nil
}

// Invalidate drops the cached token so the next call requests a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.current = AccessToken{}
	c.mu.Unlock()
}

func (c *TokenCache) fetch(ctx context.Context) (AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	if c.scope != "" {
		form.Set("scope", c.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the endpoint only; the form body is not part of it.
		return AccessToken{}, &AuthError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Err: err}
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Reason: tr.Error}
	}
	if decodeErr != nil {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", decodeErr)}
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Err: errors.New("token response missing access_token or expires_in")}
	}

	return AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
