// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/handler"
	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/internal/middleware"
)

// Deps are the handlers and shared middleware settings the routes need.
type Deps struct {
	Guard    *maintenance.Guard
	Checks   *handler.CheckHandler
	Checkout *handler.CheckoutHandler
	Webhook  *handler.WebhookHandler
	Reports  *handler.ReportHandler
	Operator *handler.OperatorHandler

	JWTSecret string
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client // nil disables caching and keeps rate limits local
}

// RegisterRoutes registers the unauthenticated endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)
	guard := middleware.Maintenance(d.Guard)

	g := e.Group("/v1")
	g.GET("/maintenance", d.Checks.Maintenance)

	// Anything that leads to a PPSR search is refused inside the window.
	g.POST("/checks/preflight", d.Checks.Preflight, guard, limit)
	g.POST("/checkout", d.Checkout.Create, guard, limit)
	g.POST("/webhooks/payment", d.Webhook.Payment, guard)

	g.GET("/reports/:order_id/status", d.Reports.Status, limit, middleware.NewRedisCache(d.Cache, d.Redis))
	g.GET("/reports/:order_id/certificate", d.Reports.Certificate, limit)

	RegisterOperator(e, d.Operator, d.JWTSecret, limit)
}
