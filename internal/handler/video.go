package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cal-edge/internal/model"
	"cal-edge/internal/video"
)

// BookerResolver resolves the public booking origin for an organization.
type BookerResolver interface {
	BookerBaseURL(ctx context.Context, orgID *int64) string
}

// VideoHandler exposes a video adapter over JSON.
type VideoHandler struct {
	adapter video.Adapter
	booker  BookerResolver
	logger  *slog.Logger
}

// NewVideoHandler creates a VideoHandler.
func NewVideoHandler(adapter video.Adapter, booker BookerResolver, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{
		adapter: adapter,
		booker:  booker,
		logger:  logger.With("component", "video_handler"),
	}
}

// CreateMeeting builds a meeting descriptor for the posted event.
func (h *VideoHandler) CreateMeeting(c echo.Context) error {
	var event model.CalendarEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if event.BookerURL == "" && event.OrganizationID != nil && h.booker != nil {
		event.BookerURL = h.booker.BookerBaseURL(c.Request().Context(), event.OrganizationID)
	}

	meeting, err := h.adapter.CreateMeeting(c.Request().Context(), event)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, meeting)
}

// UpdateMeeting rebuilds a descriptor from a stored reference.
func (h *VideoHandler) UpdateMeeting(c echo.Context) error {
	var ref model.PartialReference
	if err := c.Bind(&ref); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	meeting, err := h.adapter.UpdateMeeting(c.Request().Context(), ref)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, meeting)
}

// DeleteMeeting removes the meeting for :uid.
func (h *VideoHandler) DeleteMeeting(c echo.Context) error {
	if err := h.adapter.DeleteMeeting(c.Request().Context(), c.Param("uid")); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Availability lists busy slots.
func (h *VideoHandler) Availability(c echo.Context) error {
	slots, err := h.adapter.GetAvailability(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	if slots == nil {
		slots = []model.BusySlot{}
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *VideoHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, video.ErrInvalidEvent) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	h.logger.Error("video adapter error",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "video adapter failed"})
}
