package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/sms-service/internal/handler"
)

// RegisterRoutes registers the endpoints that never touch IAM or Secrets
// Manager: the JSON health report and the plain-text probe.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.Health)
	e.GET("/healthz", handler.Healthz)
}

// RegisterMetrics exposes the collectors gathered by g at /metrics.
func RegisterMetrics(e *echo.Echo, g prometheus.Gatherer) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// RegisterMessages registers the message endpoints.  The send route is
// wrapped by the rate limiter; the read-only listing by the response cache.
func RegisterMessages(e *echo.Echo, h *handler.MessageHandler, limiter, cache echo.MiddlewareFunc) {
	e.POST("/messages", h.PostMessages, limiter)
	e.GET("/messages", h.GetMessages, cache)
}
