package middleware

import "github.com/labstack/echo/v4"

// operatorID returns the authenticated operator, or "anon" on public
// routes.
func operatorID(c echo.Context) string {
	if s, ok := c.Get(CtxOperator).(string); ok && s != "" {
		return s
	}
	return "anon"
}
