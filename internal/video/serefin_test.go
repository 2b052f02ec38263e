package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"cal-edge/internal/config"
	"cal-edge/internal/model"
	"cal-edge/internal/storage"
)

type fakeStore struct {
	bookings   map[string]string
	keys       string
	bookingErr error
	keysErr    error
}

func (f *fakeStore) BookingMetadata(_ context.Context, uid string) (json.RawMessage, error) {
	if f.bookingErr != nil {
		return nil, f.bookingErr
	}
	raw, ok := f.bookings[uid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return json.RawMessage(raw), nil
}

func (f *fakeStore) AppKeys(context.Context, string) (json.RawMessage, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	if f.keys == "" {
		return nil, storage.ErrNotFound
	}
	return json.RawMessage(f.keys), nil
}

func newAdapter(store Store, webapp string) *Serefin {
	cfg := &config.Config{}
	cfg.App.WebAppURL = webapp
	s := NewSerefin(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.newID = func() string { return "fixed" }
	return s
}

var (
	start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end   = start.Add(30 * time.Minute)
)

func event(uid, bookerURL string) model.CalendarEvent {
	return model.CalendarEvent{
		UID:       uid,
		Type:      "Consulta Inicial",
		StartTime: start,
		EndTime:   end,
		BookerURL: bookerURL,
	}
}

func TestCreateMeeting_Matching(t *testing.T) {
	keys := `{
		"k1": "https://book.acme.com::video.acme.com",
		"k2": "acme::org-video.acme.com",
		"k3": "globex::",
		"k4": "book.initech.com::video.initech.com",
		"k5": 42
	}`
	store := &fakeStore{
		keys: keys,
		bookings: map[string]string{
			"org":         `{"contact_id":"c-1","org":"acme"}`,
			"org-empty":   `{"contact_id":"c-2","org":"globex"}`,
			"org-unknown": `{"contact_id":"c-3","org":"umbrella"}`,
			"plain":       `{"contact_id":7}`,
		},
	}
	s := newAdapter(store, "https://cal.example.com")

	tests := []struct {
		name       string
		uid        string
		bookerURL  string
		wantDomain string
		wantID     string
	}{
		{"org match wins", "org", "https://book.acme.com", "org-video.acme.com", "c-1"},
		{"org with empty right side falls back to booker match", "org-empty", "https://book.acme.com", "video.acme.com", "c-2"},
		{"unknown org falls back to booker match", "org-unknown", "http://book.initech.com", "video.initech.com", "c-3"},
		{"booker match", "plain", "https://book.acme.com", "video.acme.com", "7"},
		{"no match uses booker host", "plain", "https://other.example", "other.example", "7"},
		{"no booker uses webapp host", "plain", "", "cal.example.com", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := s.CreateMeeting(context.Background(), event(tt.uid, tt.bookerURL))
			if err != nil {
				t.Fatalf("CreateMeeting() error = %v", err)
			}
			if m.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", m.ID, tt.wantID)
			}
			wantPrefix := "https://" + tt.wantDomain + "/?room=" + tt.wantID + "&"
			if !strings.HasPrefix(m.URL, wantPrefix) {
				t.Errorf("URL = %q, want prefix %q", m.URL, wantPrefix)
			}
			if m.Type != SerefinType || m.Password != "" {
				t.Errorf("Type/Password = %q/%q", m.Type, m.Password)
			}
		})
	}
}

func TestCreateMeeting_URL(t *testing.T) {
	store := &fakeStore{bookings: map[string]string{
		"b1": `{"contact_id":"123","preferred_language":"pt"}`,
	}}
	s := newAdapter(store, "")

	m, err := s.CreateMeeting(context.Background(), event("b1", "https://book.example.com"))
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	want := "https://book.example.com/?room=123&lang=pt&duration=30&type=Consulta%20Inicial"
	if m.URL != want {
		t.Errorf("URL = %q, want %q", m.URL, want)
	}
}

func TestCreateMeeting_Defaults(t *testing.T) {
	s := newAdapter(&fakeStore{}, "")

	ev := model.CalendarEvent{StartTime: end, EndTime: start.Add(-15 * time.Minute)}
	m, err := s.CreateMeeting(context.Background(), ev)
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	want := "https://default-url/?room=unk-fixed&lang=en&duration=45&type=unknown"
	if m.URL != want {
		t.Errorf("URL = %q, want %q", m.URL, want)
	}
	if m.ID != "unk-fixed" {
		t.Errorf("ID = %q", m.ID)
	}
}

func TestCreateMeeting_LangPrecedence(t *testing.T) {
	store := &fakeStore{bookings: map[string]string{
		"both":  `{"lang":"de","preferred_language":"pt"}`,
		"array": `[1,2,3]`,
	}}
	s := newAdapter(store, "https://cal.example.com")

	m, _ := s.CreateMeeting(context.Background(), event("both", ""))
	if !strings.Contains(m.URL, "&lang=de&") {
		t.Errorf("URL = %q, want lang=de", m.URL)
	}
	m, _ = s.CreateMeeting(context.Background(), event("array", ""))
	if !strings.Contains(m.URL, "room=unk-fixed&lang=en&") {
		t.Errorf("non-object metadata should be ignored, URL = %q", m.URL)
	}
}

func TestCreateMeeting_FractionalDuration(t *testing.T) {
	s := newAdapter(&fakeStore{}, "")
	ev := model.CalendarEvent{StartTime: start, EndTime: start.Add(90 * time.Second)}
	m, err := s.CreateMeeting(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.URL, "&duration=1.5&") {
		t.Errorf("URL = %q, want duration=1.5", m.URL)
	}
}

func TestCreateMeeting_Errors(t *testing.T) {
	storeErr := errors.New("db down")

	tests := []struct {
		name  string
		store *fakeStore
		ev    model.CalendarEvent
		want  error
	}{
		{"missing times", &fakeStore{}, model.CalendarEvent{UID: "x"}, ErrInvalidEvent},
		{"booking store error", &fakeStore{bookingErr: storeErr}, event("x", ""), storeErr},
		{"keys store error", &fakeStore{keysErr: storeErr}, event("x", ""), storeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAdapter(tt.store, "").CreateMeeting(context.Background(), tt.ev)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateMeeting_InvalidKeysIgnored(t *testing.T) {
	s := newAdapter(&fakeStore{keys: `["not","an","object"]`}, "")
	m, err := s.CreateMeeting(context.Background(), event("", "https://book.example.com"))
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	if !strings.HasPrefix(m.URL, "https://book.example.com/") {
		t.Errorf("URL = %q", m.URL)
	}
}

func TestUpdateDeleteAvailability(t *testing.T) {
	s := newAdapter(&fakeStore{}, "")
	ref := model.PartialReference{MeetingID: "m1", MeetingPassword: "pw", MeetingURL: "https://v/?room=m1"}

	m, err := s.UpdateMeeting(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if m != (model.Meeting{Type: SerefinType, ID: "m1", Password: "pw", URL: "https://v/?room=m1"}) {
		t.Errorf("UpdateMeeting() = %+v", m)
	}
	if err := s.DeleteMeeting(context.Background(), "m1"); err != nil {
		t.Errorf("DeleteMeeting() error = %v", err)
	}
	slots, err := s.GetAvailability(context.Background())
	if err != nil || slots == nil || len(slots) != 0 {
		t.Errorf("GetAvailability() = %v, %v; want empty non-nil", slots, err)
	}
}

func TestEncodeURIComponent(t *testing.T) {
	tests := map[string]string{
		"a b":        "a%20b",
		"x&y=z":      "x%26y%3Dz",
		"it's (ok)!": "it's%20(ok)!",
		"a+b":        "a%2Bb",
		"café":       "caf%C3%A9",
	}
	for in, want := range tests {
		if got := encodeURIComponent(in); got != want {
			t.Errorf("encodeURIComponent(%q) = %q, want %q", in, got, want)
		}
	}
}
