package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/utils"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMaintenanceBlocksInsideWindow(t *testing.T) {
	// Wednesday 21:00 AEDT; window ends in three hours.
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	e := echo.New()
	e.POST("/v1/checkout", ok, Maintenance(&maintenance.Guard{Now: func() time.Time { return now }}))

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/v1/checkout", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10800", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"service_unavailable"`)
	assert.Contains(t, rec.Body.String(), "3h 0m")
}

func TestMaintenancePassesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 59, 59, 0, time.UTC) // 19:59:59 Sydney
	e := echo.New()
	e.POST("/v1/checkout", ok, Maintenance(&maintenance.Guard{Now: func() time.Time { return now }}))

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/v1/checkout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	g := e.Group("/v1/operator", JWTAuth("s3cret"), RequireRole(utils.RoleOperator))
	g.GET("/whoami", func(c echo.Context) error { return c.String(http.StatusOK, c.Get(CtxOperator).(string)) })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/operator/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/operator/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	wrongRole, err := utils.NewOperatorToken("s3cret", "alice", "CUSTOMER", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/operator/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+wrongRole.Token)
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

	good, err := utils.NewOperatorToken("s3cret", "alice", utils.RoleOperator, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/operator/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+good.Token)
	rec = serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestLocalTokenBucket(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "ip", Prefix: "rl",
	}
	e := echo.New()
	e.GET("/v1/maintenance", ok, NewTokenBucket(cfg, nil))

	req := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/v1/maintenance", nil)
		r.RemoteAddr = ip + ":1234"
		return serve(e, r)
	}
	assert.Equal(t, http.StatusOK, req("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, req("10.0.0.1").Code)
	blocked := req("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, req("10.0.0.2").Code, "buckets are per ip")
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", ok, NewTokenBucket(config.RateLimitConfig{}, nil), NewRedisCache(config.CacheConfig{Enabled: true}, nil))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"status":"pending"}`))
	require.NoError(t, err)
	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, `{"status":"pending"}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0, 0})
	assert.False(t, ok)
	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok)
}
