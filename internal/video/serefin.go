package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"cal-edge/internal/config"
	"cal-edge/internal/model"
	"cal-edge/internal/storage"
)

const (
	// SerefinSlug is the app store slug whose keys map booking domains to room domains.
	SerefinSlug = "serefinvideo"
	// SerefinType is the meeting type reported to the booking system.
	SerefinType = "serefin_video"

	defaultBookerURL = "default-url"
	pairSeparator    = "::"
)

// Store is the data the serefin adapter reads.
type Store interface {
	BookingMetadata(ctx context.Context, uid string) (json.RawMessage, error)
	AppKeys(ctx context.Context, slug string) (json.RawMessage, error)
}

// Serefin builds serefin video room links from per-install key pairs of the form
// "<booking domain or org>::<room domain>".
type Serefin struct {
	store     Store
	webappURL string
	logger    *slog.Logger
	newID     func() string
}

var _ Adapter = (*Serefin)(nil)

// NewSerefin creates the adapter.
func NewSerefin(cfg *config.Config, store Store, logger *slog.Logger) *Serefin {
	return &Serefin{
		store:     store,
		webappURL: cfg.App.WebAppURL,
		logger:    logger.With("component", "video", "app", SerefinSlug),
		newID:     func() string { return uuid.NewString() },
	}
}

// GetAvailability returns no busy slots; serefin rooms are always available.
func (s *Serefin) GetAvailability(context.Context) ([]model.BusySlot, error) {
	return []model.BusySlot{}, nil
}

func (s *Serefin) CreateMeeting(ctx context.Context, event model.CalendarEvent) (model.Meeting, error) {
	if event.StartTime.IsZero() || event.EndTime.IsZero() {
		return model.Meeting{}, fmt.Errorf("%w: start and end time are required", ErrInvalidEvent)
	}

	pairs, err := s.keyPairs(ctx)
	if err != nil {
		return model.Meeting{}, err
	}
	meta, err := s.metadata(ctx, event.UID)
	if err != nil {
		return model.Meeting{}, err
	}

	room := roomParams{
		id:       meetingID(meta, s.newID),
		lang:     language(meta),
		duration: durationMinutes(event),
		kind:     event.Type,
	}
	if room.kind == "" {
		room.kind = "unknown"
	}

	booker := stripScheme(event.BookerURL)
	if booker == "" {
		booker = stripScheme(s.webappURL)
	}
	if booker == "" {
		booker = defaultBookerURL
	}

	var (
		domain string
		ok     bool
	)
	if org, _ := meta["org"].(string); org != "" {
		domain, ok = matchOrg(pairs, org)
	}
	if !ok {
		domain, ok = matchBooker(pairs, booker)
	}
	if !ok {
		domain = booker
	}

	return model.Meeting{
		Type:     SerefinType,
		ID:       room.id,
		Password: "",
		URL:      room.url(domain),
	}, nil
}

// UpdateMeeting echoes the stored reference; rooms never change.
func (s *Serefin) UpdateMeeting(_ context.Context, ref model.PartialReference) (model.Meeting, error) {
	return model.Meeting{
		Type:     SerefinType,
		ID:       ref.MeetingID,
		Password: ref.MeetingPassword,
		URL:      ref.MeetingURL,
	}, nil
}

// DeleteMeeting is a no-op; rooms are not provisioned.
func (s *Serefin) DeleteMeeting(context.Context, string) error {
	return nil
}

// metadata loads booking metadata. A missing booking or non-object metadata yields an empty map.
func (s *Serefin) metadata(ctx context.Context, uid string) (map[string]any, error) {
	if uid == "" {
		return map[string]any{}, nil
	}
	raw, err := s.store.BookingMetadata(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("video: load booking %s: %w", uid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil || meta == nil {
		return map[string]any{}, nil
	}
	return meta, nil
}

type keyPair struct {
	key   string
	left  string
	right string
	split bool
}

// keyPairs loads the app keys in document order. Non-string values are skipped.
func (s *Serefin) keyPairs(ctx context.Context) ([]keyPair, error) {
	raw, err := s.store.AppKeys(ctx, SerefinSlug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("video: load app keys: %w", err)
	}
	pairs, err := decodePairs(raw)
	if err != nil {
		s.logger.Error("invalid app keys format", "error", err)
		return nil, nil
	}
	return pairs, nil
}

func decodePairs(raw json.RawMessage) ([]keyPair, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("app keys must be a JSON object")
	}

	var pairs []keyPair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		var str string
		if json.Unmarshal(value, &str) != nil {
			continue
		}
		left, right, found := strings.Cut(str, pairSeparator)
		right, _, _ = strings.Cut(right, pairSeparator)
		pairs = append(pairs, keyPair{key: key, left: left, right: right, split: found})
	}
	return pairs, nil
}

// matchOrg finds the first pair whose left side is the organization.
func matchOrg(pairs []keyPair, org string) (string, bool) {
	for _, p := range pairs {
		if p.left == org {
			return p.right, p.right != ""
		}
	}
	return "", false
}

// matchBooker finds the first pair whose left side, scheme stripped, is the booker host.
func matchBooker(pairs []keyPair, booker string) (string, bool) {
	for _, p := range pairs {
		if p.key == "" || !p.split {
			continue
		}
		if stripScheme(p.left) == booker {
			return p.right, true
		}
	}
	return "", false
}

func meetingID(meta map[string]any, newID func() string) string {
	switch v := meta["contact_id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return "unk-" + newID()
	}
}

func language(meta map[string]any) string {
	if v, ok := meta["lang"].(string); ok {
		return v
	}
	if v, ok := meta["preferred_language"].(string); ok {
		return v
	}
	return "en"
}

func durationMinutes(event model.CalendarEvent) float64 {
	return math.Abs(event.EndTime.Sub(event.StartTime).Minutes())
}

func stripScheme(u string) string {
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return rest
	}
	return u
}

type roomParams struct {
	id       string
	lang     string
	duration float64
	kind     string
}

func (r roomParams) url(domain string) string {
	return "https://" + domain +
		"/?room=" + r.id +
		"&lang=" + r.lang +
		"&duration=" + strconv.FormatFloat(r.duration, 'f', -1, 64) +
		"&type=" + encodeURIComponent(r.kind)
}

// componentUnescaper restores the characters encodeURIComponent leaves alone
// but url.QueryEscape encodes.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
