// Package service implements the upstream forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cal-edge/internal/client"
	"cal-edge/internal/config"
	"cal-edge/internal/model"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardService relays requests to the web application.
type ForwardService struct {
	client       *client.WebAppClient
	logger       *slog.Logger
	baseURL      *url.URL
	preserveHost bool
}

// NewForwardService creates a ForwardService for cfg.Upstream.BaseURL.
func NewForwardService(c *client.WebAppClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &ForwardService{
		client:       c,
		logger:       logger.With("component", "forward_service"),
		baseURL:      u,
		preserveHost: cfg.Upstream.PreserveHost,
	}, nil
}

// Forward sends r to the web application and returns its response.
// The caller is responsible for closing the response body.
func (s *ForwardService) Forward(r *model.UpstreamRequest) (*model.UpstreamResponse, error) {
	target := s.buildUpstreamURL(r.Path, r.RawQuery)

	out := *r
	out.Header = s.filterRequestHeaders(r.Header, r.Host, r.ClientIP)
	if !s.preserveHost {
		out.Host = ""
	}

	s.logger.Debug("forwarding request",
		"method", r.Method,
		"path", r.Path,
	)

	resp, err := s.client.Send(&out, target)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// Upstream returns the upstream base URL.
func (s *ForwardService) Upstream() string {
	return s.baseURL.String()
}

func (s *ForwardService) buildUpstreamURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(s.baseURL.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// filterRequestHeaders copies src without hop-by-hop headers and records the
// original host and client address.
func (s *ForwardService) filterRequestHeaders(src http.Header, host, clientIP string) http.Header {
	dst := stripHopByHop(src)
	if host != "" {
		dst.Set("X-Forwarded-Host", host)
	}
	if clientIP != "" {
		if prior := dst.Get("X-Forwarded-For"); prior != "" {
			dst.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			dst.Set("X-Forwarded-For", clientIP)
		}
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	return stripHopByHop(src)
}

func stripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	return dst
}
