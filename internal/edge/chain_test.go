package edge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"cal-edge/internal/config"
	"cal-edge/internal/flags"
	"cal-edge/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testNonce = "dGVzdG5vbmNl"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type brokenStore struct{}

func (brokenStore) GetBool(context.Context, string) (bool, bool, error) {
	return false, false, flags.ErrUnavailable
}

type orgStub map[string]string

func (o orgStub) OrgSlug(host string) (string, bool) {
	s, ok := o[host]
	return s, ok
}

func newTestChain(t *testing.T, store flags.Store, mutate func(*Options)) *Chain {
	t.Helper()
	if store == nil {
		store = flags.NewMemory(nil)
	}
	locales, err := NewLocaleResolver([]string{"en", "de"}, "en")
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Routes:    config.DefaultRoutes,
		AllowList: ParseAllowList("app.cal.com"),
		Flags:     flags.NewReader(store, time.Second, testLogger(), nil),
		Locales:   locales,
		Nonce:     func() string { return testNonce },
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewChain(opts, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	return c
}

func run(c *Chain, r *http.Request) (Result, *State) {
	s := NewState(r)
	return c.Run(context.Background(), s), s
}

func TestChain_GuardOrder(t *testing.T) {
	c := newTestChain(t, nil, nil)
	want := []string{"entry", "cors", "maintenance", "legacy-rewrite", "csp", "timezone",
		"signup", "csp-enforce", "return-to", "logout", "tagging"}
	if got := c.Guards(); !slices.Equal(got, want) {
		t.Errorf("Guards() = %v, want %v", got, want)
	}
}

func TestChain_Continue(t *testing.T) {
	c := newTestChain(t, nil, nil)
	r := httptest.NewRequest(http.MethodGet, "/event-types?x=1", nil)
	r.Header.Set("Accept-Language", "de-DE")

	res, _ := run(c, r)
	if res.Kind != KindContinue {
		t.Fatalf("Kind = %v, want continue", res.Kind)
	}
	if res.Path != "/event-types" {
		t.Errorf("Path = %q", res.Path)
	}
	checks := map[string]string{
		"x-url":      "http://example.com/event-types?x=1",
		"x-pathname": "/event-types",
		"x-locale":   "de",
		"x-csp":      "not-opted-in",
	}
	for k, v := range checks {
		if got := res.Forward.Get(k); got != v {
			t.Errorf("Forward[%s] = %q, want %q", k, got, v)
		}
	}
	if res.Header.Get("Content-Security-Policy-Report-Only") != "" || res.Header.Get("Content-Security-Policy") != "" {
		t.Error("no CSP header expected when not opted in")
	}
	if got := r.Header.Get("x-pathname"); got != "" {
		t.Errorf("inbound headers must not be modified, got x-pathname %q", got)
	}
}

func TestChain_ClientCannotPresetComputedHeaders(t *testing.T) {
	c := newTestChain(t, nil, nil)
	r := httptest.NewRequest(http.MethodGet, "/teams", nil)
	r.Host = "app.cal.com"
	r.Header.Set("x-csp-enforce", "true")
	r.Header.Set("x-cal-timezone", "Mars/Olympus")
	r.Header.Set("x-cal-org-slug", "acme")

	res, _ := run(c, r)
	if res.Kind != KindContinue {
		t.Fatalf("Kind = %v, want continue", res.Kind)
	}
	for _, h := range []string{"x-csp-enforce", "x-cal-timezone", "x-cal-org-slug"} {
		if got := res.Forward.Get(h); got != "" {
			t.Errorf("Forward[%s] = %q, want unset", h, got)
		}
	}
	if got := r.Header.Get("x-csp-enforce"); got != "true" {
		t.Errorf("inbound headers must not be modified, got x-csp-enforce %q", got)
	}
}

func TestChain_ForwardedProto(t *testing.T) {
	c := newTestChain(t, nil, nil)
	r := httptest.NewRequest(http.MethodGet, "/teams", nil)
	r.Host = "app.cal.com"
	r.Header.Set("X-Forwarded-Proto", "https")

	res, _ := run(c, r)
	if got := res.Forward.Get("x-url"); got != "https://app.cal.com/teams" {
		t.Errorf("x-url = %q", got)
	}
}

func TestChain_CORS(t *testing.T) {
	c := newTestChain(t, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/apps", nil)
	r.Header.Set("Origin", "https://app.cal.com")
	res, _ := run(c, r)
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "https://app.cal.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/apps", nil)
	r.Header.Set("Origin", "https://evil.com")
	res, _ = run(c, r)
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("denied origin got Access-Control-Allow-Origin = %q", got)
	}
}

func TestChain_Maintenance(t *testing.T) {
	store := flags.NewMemory(map[string]bool{flags.Maintenance: true})
	c := newTestChain(t, store, nil)

	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/apps", nil))
	if res.Kind != KindRewrite || res.Path != "/maintenance" {
		t.Errorf("got %v %q, want rewrite /maintenance", res.Kind, res.Path)
	}
	if res.Guard != "maintenance" {
		t.Errorf("Guard = %q", res.Guard)
	}

	res, _ = run(c, httptest.NewRequest(http.MethodGet, "/api/trpc/viewer.me", nil))
	if res.Kind != KindContinue {
		t.Errorf("api path during maintenance: Kind = %v, want continue", res.Kind)
	}
}

func TestChain_MaintenanceStoreDown(t *testing.T) {
	c := newTestChain(t, brokenStore{}, nil)
	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/apps", nil))
	if res.Kind != KindContinue {
		t.Errorf("Kind = %v, want continue when flag store fails", res.Kind)
	}
}

func TestChain_LegacyRewrite(t *testing.T) {
	c := newTestChain(t, nil, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/apps/routing_forms/forms/123", "/apps/routing-forms/forms/123"},
		{"/apps/routing_forms", "/apps/routing-forms/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, _ := run(c, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if res.Kind != KindRewrite || res.Path != tt.want {
				t.Errorf("got %v %q, want rewrite %q", res.Kind, res.Path, tt.want)
			}
			if len(res.Header) != 0 {
				t.Errorf("rewrite must carry no response headers, got %v", res.Header)
			}
		})
	}

	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/apps/routing-forms/x", nil))
	if res.Kind != KindContinue {
		t.Errorf("current path: Kind = %v, want continue", res.Kind)
	}
}

func TestChain_Timezone(t *testing.T) {
	c := newTestChain(t, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/trpc/viewer.me", nil)
	r.Header.Set("X-Vercel-Ip-Timezone", "Europe/Berlin")
	res, _ := run(c, r)
	if got := res.Forward.Get("x-cal-timezone"); got != "Europe/Berlin" {
		t.Errorf("x-cal-timezone = %q", got)
	}

	res, _ = run(c, httptest.NewRequest(http.MethodGet, "/api/trpc/viewer.me", nil))
	if v := res.Forward.Values("x-cal-timezone"); len(v) != 1 || v[0] != "" {
		t.Errorf("x-cal-timezone values = %q, want one empty value", v)
	}
}

func TestChain_Signup(t *testing.T) {
	tests := []struct {
		name  string
		store flags.Store
		want  Kind
	}{
		{"disabled", flags.NewMemory(map[string]bool{flags.SignupDisabled: true}), KindRespond},
		{"explicitly enabled", flags.NewMemory(map[string]bool{flags.SignupDisabled: false}), KindContinue},
		{"absent", flags.NewMemory(nil), KindContinue},
		{"store down", brokenStore{}, KindContinue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChain(t, tt.store, nil)
			res, _ := run(c, httptest.NewRequest(http.MethodPost, "/api/auth/signup", nil))
			if res.Kind != tt.want {
				t.Fatalf("Kind = %v, want %v", res.Kind, tt.want)
			}
			if tt.want != KindRespond {
				return
			}
			if res.Status != http.StatusServiceUnavailable {
				t.Errorf("Status = %d", res.Status)
			}
			body, ok := res.Body.(map[string]string)
			if !ok || body["error"] != "Signup is disabled" {
				t.Errorf("Body = %v", res.Body)
			}
		})
	}
}

func TestChain_CSP(t *testing.T) {
	policy := Policy("default-src 'self'; script-src 'nonce-{nonce}'")

	tests := []struct {
		name       string
		path       string
		marker     string
		wantMarker string
		wantHeader string
	}{
		{"initial props", "/event-types", "", "initialPropsOnly", "Content-Security-Policy-Report-Only"},
		{"marker present", "/event-types", "1", testNonce, "Content-Security-Policy-Report-Only"},
		{"enforced on login", "/login", "1", testNonce, "Content-Security-Policy"},
		{"enforced on auth login", "/auth/login", "", "initialPropsOnly", "Content-Security-Policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChain(t, nil, func(o *Options) { o.Policy = policy })
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.marker != "" {
				r.Header.Set("x-csp", tt.marker)
			}
			res, _ := run(c, r)
			if got := res.Forward.Get("x-csp"); got != tt.wantMarker {
				t.Errorf("x-csp = %q, want %q", got, tt.wantMarker)
			}
			want := "default-src 'self'; script-src 'nonce-" + testNonce + "'"
			if got := res.Header.Get(tt.wantHeader); got != want {
				t.Errorf("%s = %q, want %q", tt.wantHeader, got, want)
			}
		})
	}
}

func TestChain_CSPEnforceHeader(t *testing.T) {
	c := newTestChain(t, nil, nil)
	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/login", nil))
	if got := res.Forward.Get("x-csp-enforce"); got != "true" {
		t.Errorf("x-csp-enforce = %q, want true", got)
	}
	res, _ = run(c, httptest.NewRequest(http.MethodGet, "/teams", nil))
	if got := res.Forward.Get("x-csp-enforce"); got != "" {
		t.Errorf("x-csp-enforce = %q on /teams", got)
	}
}

func TestChain_ReturnTo(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		want   string
	}{
		{"absolute url", "https://other.example/booked", "http://example.com/booked?tab=1"},
		{"raw path", "/apps/installed/other", "http://example.com/apps/installed/other?tab=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChain(t, nil, nil)
			r := httptest.NewRequest(http.MethodGet, "/future/apps/installed/calendar?tab=1", nil)
			r.AddCookie(&http.Cookie{Name: "return-to", Value: tt.cookie})

			res, _ := run(c, r)
			if res.Kind != KindRedirect {
				t.Fatalf("Kind = %v, want redirect", res.Kind)
			}
			if res.Location != tt.want {
				t.Errorf("Location = %q, want %q", res.Location, tt.want)
			}
			if res.Status != http.StatusTemporaryRedirect {
				t.Errorf("Status = %d", res.Status)
			}
			cookie := res.Header.Get("Set-Cookie")
			if !strings.HasPrefix(cookie, "return-to=;") || !strings.Contains(cookie, "Path=/") ||
				!strings.Contains(cookie, "01 Jan 1970") {
				t.Errorf("Set-Cookie = %q", cookie)
			}
		})
	}
}

func TestChain_ReturnToWithoutCookie(t *testing.T) {
	c := newTestChain(t, nil, nil)
	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/future/apps/installed/calendar", nil))
	if res.Kind != KindContinue {
		t.Errorf("Kind = %v, want continue", res.Kind)
	}
}

func TestChain_Logout(t *testing.T) {
	c := newTestChain(t, nil, nil)
	res, _ := run(c, httptest.NewRequest(http.MethodGet, "/future/auth/logout", nil))
	if res.Kind != KindContinue {
		t.Fatalf("Kind = %v", res.Kind)
	}
	cookie := res.Header.Get("Set-Cookie")
	if !strings.HasPrefix(cookie, "next-auth.session-token=;") || !strings.Contains(cookie, "01 Jan 1970") {
		t.Errorf("Set-Cookie = %q", cookie)
	}
}

func TestChain_OrgSlug(t *testing.T) {
	c := newTestChain(t, nil, func(o *Options) {
		o.Orgs = orgStub{"acme.cal.com": "acme"}
	})

	r := httptest.NewRequest(http.MethodGet, "/teams", nil)
	r.Host = "acme.cal.com"
	res, _ := run(c, r)
	if got := res.Forward.Get("x-cal-org-slug"); got != "acme" {
		t.Errorf("x-cal-org-slug = %q", got)
	}

	res, _ = run(c, httptest.NewRequest(http.MethodGet, "/teams", nil))
	if got := res.Forward.Get("x-cal-org-slug"); got != "" {
		t.Errorf("x-cal-org-slug = %q on non-org host", got)
	}
}

func TestChain_Metrics(t *testing.T) {
	m := metrics.New()
	store := flags.NewMemory(map[string]bool{flags.Maintenance: true})
	locales, _ := NewLocaleResolver(nil, "en")
	c, err := NewChain(Options{
		Routes:  config.DefaultRoutes,
		Flags:   flags.NewReader(store, time.Second, testLogger(), m),
		Locales: locales,
	}, testLogger(), m)
	if err != nil {
		t.Fatal(err)
	}

	run(c, httptest.NewRequest(http.MethodGet, "/apps", nil))
	if v := testutil.ToFloat64(m.ChainResults.WithLabelValues("maintenance", "rewrite")); v != 1 {
		t.Errorf("chain results = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.FlagLookups.WithLabelValues(flags.Maintenance, "set")); v != 1 {
		t.Errorf("flag lookups = %v, want 1", v)
	}
}

func TestNew_FromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Edge.Routes = config.DefaultRoutes
	cfg.CORS.AllowedHostnames = `"app.cal.com"`
	cfg.CSP.Policy = "script-src 'nonce-{nonce}'"

	locales, _ := NewLocaleResolver(nil, "en")
	reader := flags.NewReader(flags.NewMemory(nil), time.Second, testLogger(), nil)
	c, err := New(cfg, reader, locales, nil, testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !c.Matches("/login") || c.Matches("/healthz") {
		t.Error("route matching not configured from config")
	}
	if !c.opts.AllowList.Allows("https://app.cal.com") {
		t.Error("allow-list not parsed from config")
	}
}

func TestNewChain_RequiresFlags(t *testing.T) {
	if _, err := NewChain(Options{Routes: []string{"/login"}}, testLogger(), nil); err == nil {
		t.Fatal("expected error without flag reader")
	}
}
