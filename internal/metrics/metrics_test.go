package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("GET", "200", "/api").Inc()
	m.ChainResults.WithLabelValues("maintenance", "rewrite").Inc()
	m.FlagLookups.WithLabelValues("isSignupDisabled", "failed").Inc()
	m.LicenseCalls.WithLabelValues("check", "cached").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"cal_edge_http_requests_total": false,
		"cal_edge_chain_results_total": false,
		"cal_edge_flag_lookups_total":  false,
		"cal_edge_license_calls_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := NormalizeMethod(tt.method); got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/trpc/viewer.me", "/api/trpc"},
		{"/api/auth/signup", "/api/auth"},
		{"/api/anything", "/api"},
		{"/apps/routing_forms/foo", "/apps"},
		{"/future/apps/installed/calendar", "/future"},
		{"/edge/video/meetings", "/edge/video"},
		{"/edge/license", "/edge/license"},
		{"/login", "/login"},
		{"/healthz", "/healthz"},
		{"/apiary", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
