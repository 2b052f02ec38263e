package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
)

// Handlers groups the route handlers for injection.
type Handlers struct {
	Edge    *EdgeHandler
	Health  *HealthHandler
	Video   *VideoHandler
	License *LicenseHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// Metrics may be nil.
func RegisterRoutes(e *echo.Echo, h Handlers, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", h.Health.Healthz)
	e.GET("/edge/status", h.Health.Status)

	v := e.Group("/edge/video")
	v.POST("/meetings", h.Video.CreateMeeting)
	v.PUT("/meetings", h.Video.UpdateMeeting)
	v.DELETE("/meetings/:uid", h.Video.DeleteMeeting)
	v.GET("/availability", h.Video.Availability)

	e.GET("/edge/license", h.License.Check)
	e.POST("/edge/license/usage", h.License.IncrementUsage)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", h.Edge.Handle)
}
