package ppsr

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheReusesFreshToken(t *testing.T) {
	g := newFakeGateway(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c, _ := newTestClient(g, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := c.Tokens().Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), first.ExpiresAt)

	now = now.Add(58 * time.Minute)
	second, err := c.Tokens().Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
	assert.EqualValues(t, 1, g.tokensIssued.Load())
}

func TestTokenCacheRefreshesWithinSkew(t *testing.T) {
	g := newFakeGateway(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c, _ := newTestClient(g, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := c.Tokens().Token(ctx)
	require.NoError(t, err)

	// exactly expiresAt - 60s counts as stale
	now = first.ExpiresAt.Add(-refreshSkew)
	second, err := c.Tokens().Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)
	assert.EqualValues(t, 2, g.tokensIssued.Load())
}

func TestTokenCacheAuthErrors(t *testing.T) {
	g := newFakeGateway(t)
	ctx := context.Background()

	bad := NewClient(Config{BaseURL: g.server.URL, ClientID: "client", ClientSecret: "wrong"})
	_, err := bad.Tokens().Token(ctx)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "invalid_client", authErr.Reason)
	assert.NotContains(t, err.Error(), "wrong")

	g.handle("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	c, _ := newTestClient(g)
	_, err = c.Tokens().Token(ctx)
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusOK, authErr.StatusCode)
}

func TestTokenInvalidatedOnUnauthorizedCall(t *testing.T) {
	g := newFakeGateway(t)
	c, _ := newTestClient(g)
	g.handle("POST /api/b2g/searches/serial-number", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.SubmitSearch(context.Background(), SearchRequest{VIN: "1HGBH41JXMN109186"})
	require.Error(t, err)
	_, _ = c.SubmitSearch(context.Background(), SearchRequest{VIN: "1HGBH41JXMN109186"})
	assert.EqualValues(t, 2, g.tokensIssued.Load())
}
