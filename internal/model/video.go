package model

import "time"

// CalendarEvent is the subset of a booked event the video adapters read.
type CalendarEvent struct {
	UID            string    `json:"uid"`
	Type           string    `json:"type"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	BookerURL      string    `json:"bookerUrl,omitempty"`
	OrganizationID *int64    `json:"organizationId,omitempty"`
}

// Meeting is the descriptor a video adapter returns for a booked event.
type Meeting struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Password string `json:"password"`
}

// PartialReference points at a meeting created earlier.
type PartialReference struct {
	MeetingID       string `json:"meetingId"`
	MeetingPassword string `json:"meetingPassword"`
	MeetingURL      string `json:"meetingUrl"`
}

// BusySlot is an interval during which a provider reports unavailability.
type BusySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Team is the subset of a team record the booker URL helpers need.
type Team struct {
	ID             int64  `json:"id"`
	OrganizationID *int64 `json:"organizationId,omitempty"`
}
