// Package urls resolves the public booking origin for users, teams and organizations.
package urls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"cal-edge/internal/config"
	"cal-edge/internal/model"
	"cal-edge/internal/storage"
)

// OrgStore looks up organizations by id.
type OrgStore interface {
	Organization(ctx context.Context, id int64) (storage.Organization, error)
}

// Resolver builds booker URLs and recognises organization subdomains.
type Resolver struct {
	webappURL string
	webapp    *url.URL
	orgs      OrgStore
	orgHost   *regexp.Regexp
	logger    *slog.Logger
}

// New creates a Resolver for the configured web app URL. Without a web app URL no host
// is treated as an organization subdomain.
func New(cfg *config.Config, orgs OrgStore, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{
		webappURL: strings.TrimRight(cfg.App.WebAppURL, "/"),
		orgs:      orgs,
		logger:    logger.With("component", "urls"),
	}
	if r.webappURL == "" {
		return r, nil
	}
	u, err := url.Parse(r.webappURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("urls: invalid web app URL %q", cfg.App.WebAppURL)
	}
	sub, base, err := SubdomainPattern(r.webappURL)
	if err != nil {
		return nil, err
	}
	r.webapp = u
	r.orgHost = regexp.MustCompile(`^(` + sub + `)\.` + base + `(?::\d+)?$`)
	return r, nil
}

// SubdomainPattern returns a pattern matching one subdomain label and the regexp-escaped
// hostname of webappURL.
func SubdomainPattern(webappURL string) (subdomain, escapedBase string, err error) {
	u, err := url.Parse(webappURL)
	if err != nil {
		return "", "", fmt.Errorf("urls: parse %q: %w", webappURL, err)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("urls: %q has no hostname", webappURL)
	}
	return `[^\.]+`, regexp.QuoteMeta(u.Hostname()), nil
}

// WebAppURL returns the configured web app URL without a trailing slash.
func (r *Resolver) WebAppURL() string {
	return r.webappURL
}

// OrgSlug extracts the organization slug from a host of the form <slug>.<webapp host>.
func (r *Resolver) OrgSlug(host string) (string, bool) {
	if r.orgHost == nil {
		return "", false
	}
	m := r.orgHost.FindStringSubmatch(strings.ToLower(host))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// OrgFullOrigin builds the origin an organization is served from when it has no custom domain.
func (r *Resolver) OrgFullOrigin(slug string) string {
	if r.webapp == nil {
		return r.webappURL
	}
	return r.webapp.Scheme + "://" + slug + "." + r.webapp.Host
}

// BookerBaseURL returns the organization's domain when orgID names one, otherwise the
// web app URL. Lookup failures fall back to the web app URL.
func (r *Resolver) BookerBaseURL(ctx context.Context, orgID *int64) string {
	if orgID == nil || r.orgs == nil {
		return r.webappURL
	}
	org, err := r.orgs.Organization(ctx, *orgID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("organization lookup failed", "org_id", *orgID, "error", err)
		}
		return r.webappURL
	}
	if org.FullDomain != "" {
		return strings.TrimRight(org.FullDomain, "/")
	}
	return r.OrgFullOrigin(org.Slug)
}

// TeamBookerURL returns the booker base URL for a team.
func (r *Resolver) TeamBookerURL(ctx context.Context, team model.Team) string {
	return r.BookerBaseURL(ctx, team.OrganizationID)
}
