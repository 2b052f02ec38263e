package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cal-edge/internal/license"
)

// LicenseHandler exposes the license client.
type LicenseHandler struct {
	service license.Service
	logger  *slog.Logger
}

// NewLicenseHandler creates a LicenseHandler.
func NewLicenseHandler(svc license.Service, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: svc,
		logger:  logger.With("component", "license_handler"),
	}
}

// Check reports license validity.
func (h *LicenseHandler) Check(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"valid": h.service.CheckLicense(c.Request().Context()),
	})
}

// IncrementUsage records one usage event named by the event query parameter.
func (h *LicenseHandler) IncrementUsage(c echo.Context) error {
	event, err := license.ParseUsageEvent(c.QueryParam("event"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	out, err := h.service.IncrementUsage(c.Request().Context(), event)
	if err != nil {
		if errors.Is(err, license.ErrNoLicenseKey) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no license key configured"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "license usage increment failed"})
	}
	if out == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, out)
}
