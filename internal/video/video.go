// Package video implements meeting adapters for video conferencing apps.
package video

import (
	"context"
	"errors"

	"cal-edge/internal/model"
)

// ErrInvalidEvent is returned when an event lacks the fields needed to build a meeting.
var ErrInvalidEvent = errors.New("invalid calendar event")

// Adapter is the contract every video app implements.
type Adapter interface {
	GetAvailability(ctx context.Context) ([]model.BusySlot, error)
	CreateMeeting(ctx context.Context, event model.CalendarEvent) (model.Meeting, error)
	UpdateMeeting(ctx context.Context, ref model.PartialReference) (model.Meeting, error)
	DeleteMeeting(ctx context.Context, uid string) error
}
