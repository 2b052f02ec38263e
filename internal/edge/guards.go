package edge

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"cal-edge/internal/flags"
)

const (
	headerURL        = "x-url"
	headerCSPMarker  = "x-csp"
	headerCSPEnforce = "x-csp-enforce"
	headerTimezone   = "x-cal-timezone"
	headerPathname   = "x-pathname"
	headerLocale     = "x-locale"
	headerOrgSlug    = "x-cal-org-slug"

	returnToCookie = "return-to"
)

var epoch = time.Unix(0, 0).UTC()

// PathRewrite maps legacy paths onto their current location.
type PathRewrite struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply returns the rewritten path when the pattern matches.
func (r PathRewrite) Apply(path string) (string, bool) {
	if !r.Pattern.MatchString(path) {
		return "", false
	}
	return r.Pattern.ReplaceAllString(path, r.Replacement), true
}

// DefaultRewrites keeps old routing form links working.
var DefaultRewrites = []PathRewrite{
	{Pattern: regexp.MustCompile(`^/apps/routing_forms($|/)`), Replacement: "/apps/routing-forms/"},
}

func (c *Chain) defaultGuards() []Guard {
	return []Guard{
		{Name: "entry", Apply: c.entry},
		{Name: "cors", Apply: c.cors},
		{Name: "maintenance", Apply: c.maintenance},
		{Name: "legacy-rewrite", Apply: c.legacyRewrite},
		{Name: "csp", Apply: c.csp},
		{Name: "timezone", Apply: c.timezone},
		{Name: "signup", Apply: c.signup},
		{Name: "csp-enforce", Apply: c.cspEnforce},
		{Name: "return-to", Apply: c.returnTo},
		{Name: "logout", Apply: c.logout},
		{Name: "tagging", Apply: c.tagging},
	}
}

func (c *Chain) entry(_ context.Context, s *State) Result {
	s.Forward.Set(headerURL, s.URL.String())
	return next()
}

func (c *Chain) cors(_ context.Context, s *State) Result {
	c.opts.AllowList.Apply(s.Header.Get("Origin"), s.Response)
	return next()
}

func (c *Chain) maintenance(ctx context.Context, s *State) Result {
	if strings.HasPrefix(s.Path(), "/api") {
		return next()
	}
	if c.opts.Flags.Enabled(ctx, flags.Maintenance) {
		return rewrite("/maintenance")
	}
	return next()
}

func (c *Chain) legacyRewrite(_ context.Context, s *State) Result {
	for _, r := range c.opts.Rewrites {
		if p, ok := r.Apply(s.Path()); ok {
			return rewrite(p)
		}
	}
	return next()
}

func (c *Chain) csp(_ context.Context, s *State) Result {
	switch {
	case !c.opts.Policy.Enabled():
		s.Forward.Set(headerCSPMarker, cspNotOptedIn)
	case s.Header.Get(headerCSPMarker) == "":
		s.Nonce = c.opts.Nonce()
		s.Forward.Set(headerCSPMarker, cspInitialPropsOnly)
	default:
		s.Nonce = c.opts.Nonce()
		s.Forward.Set(headerCSPMarker, s.Nonce)
	}
	return next()
}

func (c *Chain) timezone(_ context.Context, s *State) Result {
	if strings.HasPrefix(s.Path(), "/api/trpc/") {
		s.Forward.Set(headerTimezone, s.Header.Get(c.opts.TimezoneHeader))
	}
	return next()
}

func (c *Chain) signup(ctx context.Context, s *State) Result {
	if !strings.HasPrefix(s.Path(), "/api/auth/signup") {
		return next()
	}
	if c.opts.Flags.Enabled(ctx, flags.SignupDisabled) {
		return Result{
			Kind:   KindRespond,
			Status: http.StatusServiceUnavailable,
			Body:   map[string]string{"error": "Signup is disabled"},
			Header: s.Response,
		}
	}
	return next()
}

func (c *Chain) cspEnforce(_ context.Context, s *State) Result {
	p := s.Path()
	if strings.HasPrefix(p, "/auth/login") || strings.HasPrefix(p, "/login") {
		s.Forward.Set(headerCSPEnforce, "true")
	}
	return next()
}

func (c *Chain) returnTo(_ context.Context, s *State) Result {
	if !strings.HasPrefix(s.Path(), "/future/apps/installed") {
		return next()
	}
	raw, ok := s.Cookie(returnToCookie)
	if !ok {
		return next()
	}
	s.Response.Add("Set-Cookie", expiredCookie(returnToCookie))

	rt := ResolveReturnTo(raw)
	if !rt.Parsed {
		c.logger.Debug("return-to cookie is not an absolute URL, using raw value", "value", raw)
	}
	loc := *s.URL
	loc.Path = rt.Path
	loc.RawPath = ""
	return Result{
		Kind:     KindRedirect,
		Status:   http.StatusTemporaryRedirect,
		Location: loc.String(),
		Header:   s.Response,
	}
}

func (c *Chain) logout(_ context.Context, s *State) Result {
	if strings.HasPrefix(s.Path(), "/future/auth/logout") {
		s.Response.Add("Set-Cookie", expiredCookie(c.opts.SessionCookie))
	}
	return next()
}

func (c *Chain) tagging(_ context.Context, s *State) Result {
	s.Forward.Set(headerPathname, s.Path())
	s.Forward.Set(headerLocale, c.opts.Locales.Resolve(s))
	if c.opts.Orgs != nil {
		if slug, ok := c.opts.Orgs.OrgSlug(s.URL.Host); ok {
			s.Forward.Set(headerOrgSlug, slug)
		}
	}
	return next()
}
