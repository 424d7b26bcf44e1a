// Package ppsr is the client for the PPSR search gateway. It covers token
// issuance, VIN resolution, search submission and certificate retrieval.
package ppsr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverify/carverify/pkg/log"
)

// Gateway error codes meaning "ask again later".
const (
	CodeCertificateNotReady = "SEARCH_CERTIFICATE_NOT_READY"
	CodeSearchInProgress    = "SEARCH_IN_PROGRESS"
)

const maxBodyBytes = 32 << 20

// RetryPolicy bounds the certificate poller. MaxRetries is the total number
// of attempts, Delay the pause between two attempts.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy allows five attempts five seconds apart.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, Delay: 5 * time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultRetryPolicy.MaxRetries
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Config holds the gateway endpoints and credentials.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
	Retry        RetryPolicy
	// RetryableCodes extends the built-in "not ready" gateway codes.
	RetryableCodes []string
}

// WaitFunc pauses between poll attempts. It must return early with the
// context's error when ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client talks to the gateway. It is safe for concurrent use; the only
// state shared between requests is the token cache.
type Client struct {
	cfg       Config
	http      *http.Client
	tokens    *TokenCache
	log       log.Logger
	wait      WaitFunc
	requestID func() string
	retryable map[string]bool
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every gateway call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithWait replaces the pause between poll attempts.
func WithWait(w WaitFunc) Option {
	return func(c *Client) { c.wait = w }
}

// WithClock sets the clock used by the token cache.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.tokens.now = now }
}

// WithRequestID replaces the customerRequestId generator.
func WithRequestID(fn func() string) Option {
	return func(c *Client) { c.requestID = fn }
}

// NewClient builds a client with its own token cache.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.BaseURL + "/oauth/token"
	}
	cfg.Retry = cfg.Retry.withDefaults()

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log.NewNopLogger(),
		wait:      sleepCtx,
		requestID: func() string { return uuid.NewString() },
		retryable: map[string]bool{CodeCertificateNotReady: true, CodeSearchInProgress: true},
	}
	for _, code := range cfg.RetryableCodes {
		c.retryable[code] = true
	}
	c.tokens = NewTokenCache(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, nil)
	for _, opt := range opts {
		opt(c)
	}
	c.tokens.http = c.http
	return c
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache { return c.tokens }

// RetryPolicy is the configured default poll policy.
func (c *Client) RetryPolicy() RetryPolicy { return c.cfg.Retry }

// gatewayErrorItem is one entry of the gateway's error list.
type gatewayErrorItem struct {
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

// envelope wraps every gateway response.
type envelope struct {
	HasError bool               `json:"hasError"`
	Errors   []gatewayErrorItem `json:"errors"`
	Resource json.RawMessage    `json:"resource"`
}

func (e envelope) firstError() gatewayErrorItem {
	if len(e.Errors) == 0 {
		return gatewayErrorItem{ErrorDescription: "gateway reported an error without details"}
	}
	return e.Errors[0]
}

// response is the raw outcome of one authenticated call.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status <= 299 }

func (r response) envelope() (envelope, error) {
	var env envelope
	if err := json.Unmarshal(r.body, &env); err != nil {
		return envelope{}, fmt.Errorf("decode gateway response: %w", err)
	}
	return env, nil
}

// transientStatus reports HTTP statuses worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusAccepted, http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// call performs an authenticated JSON request. Transport failures are
// returned as errors; HTTP statuses are left to the caller.
func (c *Client) call(ctx context.Context, method, path string, payload any) (response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return response{}, err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// A revoked or rotated token; the next workflow starts from a fresh grant.
		c.tokens.Invalidate()
	}
	return response{status: resp.StatusCode, body: b}, nil
}
