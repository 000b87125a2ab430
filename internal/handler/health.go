package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"discogs-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	secrets *config.Store
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, secrets *config.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, secrets: secrets, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ping is the caller-facing liveness endpoint under the API prefix.
func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports proxy status, including whether the process is running
// degraded with unresolved secrets.
func (h *HealthHandler) Status(c echo.Context) error {
	s := h.secrets.Current()
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          string(h.version),
		"upstream_url":     h.cfg.Upstream.BaseURL,
		"api_key_resolved": s.APIKeyResolved(),
		"token_resolved":   s.TokenResolved(),
	})
}
