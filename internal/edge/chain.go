// Package edge runs the request-time middleware chain in front of the web application.
package edge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
)

// FlagReader answers boolean feature flag gates. Lookup failures must read as disabled.
type FlagReader interface {
	Enabled(ctx context.Context, key string) bool
}

// OrgResolver extracts an organization slug from a request host.
type OrgResolver interface {
	OrgSlug(host string) (string, bool)
}

// Guard is one step of the chain. Apply returns a Result of KindNext to pass control on.
type Guard struct {
	Name  string
	Apply func(ctx context.Context, s *State) Result
}

// Options configures a Chain.
type Options struct {
	Routes         []string
	AllowList      AllowList
	Policy         Policy
	TimezoneHeader string
	SessionCookie  string
	Rewrites       []PathRewrite

	Flags   FlagReader
	Locales *LocaleResolver
	Orgs    OrgResolver // optional

	// Nonce generates CSP nonces. Defaults to NewNonce.
	Nonce func() string
}

// Chain is the ordered guard list plus the route matcher that selects requests for it.
type Chain struct {
	matcher *RouteMatcher
	guards  []Guard
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Chain from application config.
func New(cfg *config.Config, flags FlagReader, locales *LocaleResolver, orgs OrgResolver, logger *slog.Logger, m *metrics.Metrics) (*Chain, error) {
	return NewChain(Options{
		Routes:         cfg.Edge.Routes,
		AllowList:      ParseAllowList(cfg.CORS.AllowedHostnames),
		Policy:         Policy(cfg.CSP.Policy),
		TimezoneHeader: cfg.Edge.TimezoneHeader,
		SessionCookie:  cfg.Edge.SessionCookie,
		Flags:          flags,
		Locales:        locales,
		Orgs:           orgs,
	}, logger, m)
}

// NewChain builds a Chain from explicit options. Metrics may be nil.
func NewChain(opts Options, logger *slog.Logger, m *metrics.Metrics) (*Chain, error) {
	matcher, err := NewRouteMatcher(opts.Routes)
	if err != nil {
		return nil, fmt.Errorf("edge: %w", err)
	}
	if opts.Flags == nil {
		return nil, fmt.Errorf("edge: flag reader is required")
	}
	if opts.Locales == nil {
		opts.Locales, err = NewLocaleResolver(nil, "")
		if err != nil {
			return nil, fmt.Errorf("edge: %w", err)
		}
	}
	if opts.Nonce == nil {
		opts.Nonce = NewNonce
	}
	if opts.Rewrites == nil {
		opts.Rewrites = DefaultRewrites
	}
	if opts.TimezoneHeader == "" {
		opts.TimezoneHeader = "X-Vercel-Ip-Timezone"
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "next-auth.session-token"
	}

	c := &Chain{
		matcher: matcher,
		opts:    opts,
		logger:  logger.With("component", "edge"),
		metrics: m,
	}
	c.guards = c.defaultGuards()
	return c, nil
}

// Matches reports whether the chain runs for path.
func (c *Chain) Matches(path string) bool {
	return c.matcher.Match(path)
}

// Guards returns the guard names in execution order.
func (c *Chain) Guards() []string {
	names := make([]string, len(c.guards))
	for i, g := range c.guards {
		names[i] = g.Name
	}
	return names
}

// Run drives s through the guards and returns the first terminal result, or a
// KindContinue result carrying the accumulated headers.
func (c *Chain) Run(ctx context.Context, s *State) Result {
	for _, g := range c.guards {
		res := g.Apply(ctx, s)
		if !res.Terminal() {
			continue
		}
		res.Guard = g.Name
		c.observe(res)
		c.logger.Debug("chain stopped",
			"guard", g.Name,
			"kind", res.Kind.String(),
			"path", s.Path(),
		)
		return res
	}

	res := c.finish(s)
	c.observe(res)
	return res
}

func (c *Chain) finish(s *State) Result {
	if c.opts.Policy.Enabled() && s.Nonce != "" {
		enforce := s.Forward.Get(headerCSPEnforce) == "true"
		s.Response.Set(c.opts.Policy.HeaderName(enforce), c.opts.Policy.Render(s.Nonce))
	}
	return Result{
		Kind:    KindContinue,
		Guard:   "default",
		Path:    s.Path(),
		Forward: s.Forward,
		Header:  s.Response,
	}
}

func (c *Chain) observe(res Result) {
	if c.metrics == nil {
		return
	}
	c.metrics.ChainResults.WithLabelValues(res.Guard, res.Kind.String()).Inc()
}

// expiredCookie renders a Set-Cookie value that clears name at path "/".
func expiredCookie(name string) string {
	return (&http.Cookie{Name: name, Value: "", Path: "/", Expires: epoch}).String()
}
