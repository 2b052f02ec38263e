package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cal-edge/internal/client"
	"cal-edge/internal/config"
	"cal-edge/internal/edge"
	"cal-edge/internal/flags"
	"cal-edge/internal/license"
	"cal-edge/internal/model"
	"cal-edge/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newForward(t *testing.T, cfg *config.Config) *service.ForwardService {
	t.Helper()
	fwd, err := service.NewForwardService(client.NewWebAppClient(cfg, testLogger(), nil), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewForwardService: %v", err)
	}
	return fwd
}

func newChain(t *testing.T, values map[string]bool) *edge.Chain {
	t.Helper()
	chain, err := edge.NewChain(edge.Options{
		Routes:    config.DefaultRoutes,
		AllowList: edge.ParseAllowList("app.cal.com"),
		Flags:     flags.NewReader(flags.NewMemory(values), time.Second, testLogger(), nil),
		Nonce:     func() string { return "bm9uY2U=" },
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

type fakeAdapter struct {
	gotEvent model.CalendarEvent
	gotUID   string
	err      error
}

func (f *fakeAdapter) GetAvailability(context.Context) ([]model.BusySlot, error) {
	return nil, f.err
}

func (f *fakeAdapter) CreateMeeting(_ context.Context, event model.CalendarEvent) (model.Meeting, error) {
	f.gotEvent = event
	if f.err != nil {
		return model.Meeting{}, f.err
	}
	return model.Meeting{Type: "serefin_video", ID: "m-1", URL: "https://" + event.BookerURL + "/?room=m-1"}, nil
}

func (f *fakeAdapter) UpdateMeeting(_ context.Context, ref model.PartialReference) (model.Meeting, error) {
	return model.Meeting{Type: "serefin_video", ID: ref.MeetingID, URL: ref.MeetingURL, Password: ref.MeetingPassword}, f.err
}

func (f *fakeAdapter) DeleteMeeting(_ context.Context, uid string) error {
	f.gotUID = uid
	return f.err
}

type bookerStub string

func (b bookerStub) BookerBaseURL(context.Context, *int64) string {
	return string(b)
}

type licenseStub struct {
	valid bool
	usage any
	err   error
	event license.UsageEvent
}

func (l *licenseStub) IncrementUsage(_ context.Context, event license.UsageEvent) (any, error) {
	l.event = event
	return l.usage, l.err
}

func (l *licenseStub) CheckLicense(context.Context) bool {
	return l.valid
}
