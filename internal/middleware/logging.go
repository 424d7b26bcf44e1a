package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/carverify/carverify/pkg/log"
)

// RequestLogger writes one structured line per request. Query strings are
// left out since download links carry their token there.
func RequestLogger(logger log.Logger) echo.MiddlewareFunc {
	logger = logger.WithName("http")
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			kv := []any{
				"method", v.Method,
				"route", v.RoutePath,
				"path", c.Request().URL.Path,
				"status", v.Status,
				"latency_ms", float64(v.Latency) / float64(time.Millisecond),
				"remote_ip", v.RemoteIP,
			}
			if v.RequestID != "" {
				kv = append(kv, "request_id", v.RequestID)
			}
			switch {
			case v.Error != nil:
				logger.Error(v.Error, "request failed", kv...)
			case v.Status >= 500:
				logger.Warn("request", kv...)
			default:
				logger.Info("request", kv...)
			}
			return nil
		},
	})
}
