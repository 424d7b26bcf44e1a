package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/metrics"
)

// Maintenance rejects requests during the PPSR maintenance window with 503
// and a Retry-After header. It runs before any handler that would reach the
// gateway.
func Maintenance(guard *maintenance.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := guard.Current()
			st := maintenance.Check(now)
			if !st.Blocked {
				return next(c)
			}
			metrics.MaintenanceBlocks.WithLabelValues(c.Path()).Inc()
			secs := int(st.RetryAfter(now).Seconds())
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusServiceUnavailable, echo.Map{
				"error":      "service_unavailable",
				"message":    st.Message,
				"window_end": st.WindowEnd,
			})
		}
	}
}
