package ppsr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGateway is an httptest server standing in for the PPSR gateway. Each
// route is a handler the test swaps in; the token route issues tokens
// unless overridden.
type fakeGateway struct {
	t *testing.T

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int

	tokensIssued atomic.Int32
	server       *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, routes: map[string]http.HandlerFunc{}, hits: map[string]int{}}
	g.routes["POST /oauth/token"] = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		n := g.tokensIssued.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok-" + string(rune('0'+n)), "token_type": "Bearer", "expires_in": 3600})
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	g.mu.Lock()
	h, ok := g.routes[key]
	g.hits[key]++
	g.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.URL.Path != "/oauth/token" && r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h(w, r)
}

func (g *fakeGateway) handle(key string, h http.HandlerFunc) {
	g.mu.Lock()
	g.routes[key] = h
	g.mu.Unlock()
}

func (g *fakeGateway) count(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notReadyBody() map[string]any {
	return map[string]any{
		"hasError": true,
		"errors":   []map[string]string{{"errorCode": CodeCertificateNotReady, "errorDescription": "Search certificate has not been processed yet"}},
	}
}

func certificateBody(filename string) map[string]any {
	return map[string]any{
		"hasError": false,
		"resource": map[string]any{
			"pdfBase64": base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test")),
			"filename":  filename,
		},
	}
}

// waitRecorder replaces the poll delay and records every requested pause.
type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waitRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.delays)
}

func newTestClient(g *fakeGateway, opts ...Option) (*Client, *waitRecorder) {
	rec := &waitRecorder{}
	all := append([]Option{WithWait(rec.wait)}, opts...)
	c := NewClient(Config{
		BaseURL:      g.server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		Scope:        "ppsr.search",
		Retry:        RetryPolicy{MaxRetries: 5, Delay: 5 * time.Second},
	}, all...)
	return c, rec
}
