// Package middleware holds the echo middleware shared by the HTTP routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carverify/carverify/internal/utils"
)

// Context keys set by JWTAuth.
const (
	CtxOperator = "operator"
	CtxRole     = "role"
)

// JWTAuth validates a Bearer operator token and stores its subject and
// role in the context under CtxOperator and CtxRole.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseOperatorToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(CtxOperator, claims.Subject)
			c.Set(CtxRole, claims.Role)
			return next(c)
		}
	}
}
