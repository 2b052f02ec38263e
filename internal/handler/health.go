package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cal-edge/internal/edge"
	"cal-edge/internal/license"
	"cal-edge/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	version Version
	forward *service.ForwardService
	chain   *edge.Chain
	license license.Service
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(v Version, fwd *service.ForwardService, chain *edge.Chain, lic license.Service) *HealthHandler {
	return &HealthHandler{version: v, forward: fwd, chain: chain, license: lic}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	UpstreamURL  string   `json:"upstream_url"`
	Guards       []string `json:"guards"`
	LicenseValid bool     `json:"license_valid"`
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		UpstreamURL:  h.forward.Upstream(),
		Guards:       h.chain.Guards(),
		LicenseValid: h.license.CheckLicense(c.Request().Context()),
	})
}
