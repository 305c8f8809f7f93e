package handler

import (
	"github.com/labstack/echo/v4"

	"portal-proxy/internal/config"
	"portal-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The metrics
// endpoint is mounted only when m is non-nil and metrics are enabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if m != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	prefix := cfg.Server.RoutePrefix
	e.Any(prefix, proxy.Handle)
	e.Any(prefix+"/*", proxy.Handle)
}
