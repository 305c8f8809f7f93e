// Package handler exposes the proxy and its operational endpoints over Echo.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"portal-proxy/internal/config"
	"portal-proxy/internal/mock"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	mocks   *mock.Registry
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, mocks *mock.Registry, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, mocks: mocks, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build, the upstream and whether mock fallback is active.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"environment":   h.cfg.App.Environment,
		"upstream_url":  h.cfg.Upstream.BaseURL,
		"route_prefix":  h.cfg.Server.RoutePrefix,
		"mock_fallback": h.mocks.Enabled(),
	})
}
