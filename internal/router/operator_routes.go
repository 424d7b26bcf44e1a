package router

import (
	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/handler"
	"github.com/carverify/carverify/internal/middleware"
	"github.com/carverify/carverify/internal/utils"
)

// RegisterOperator registers back-office endpoints under /v1/operator.
// Everything except login requires a valid JWT with the OPERATOR role.
func RegisterOperator(e *echo.Echo, o *handler.OperatorHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	e.POST("/v1/operator/login", o.Login, limit)

	g := e.Group(
		"/v1/operator",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleOperator),
	)
	g.GET("/reports/pending", o.Pending)
	g.POST("/reports/:order_id/retry", o.Retry)
	g.POST("/reports/:order_id/resend", o.Resend)
}
