// Package client provides the pooled HTTP client for the upstream web application.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
	"cal-edge/internal/model"
)

// WebAppClient sends requests to the web application.
type WebAppClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewWebAppClient creates a WebAppClient with connection pooling and timeouts.
// Redirects are returned to the caller rather than followed, and bodies are passed
// through without transparent decompression.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewWebAppClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *WebAppClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &WebAppClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "webapp_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *WebAppClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Send builds a request bound to r.Ctx for target and executes it. Canceling the
// context (for example on client disconnect) cancels the upstream request.
// The caller is responsible for closing the returned body.
func (c *WebAppClient) Send(r *model.UpstreamRequest, target string) (*model.UpstreamResponse, error) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader
	if r.Body != nil {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = r.Header
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if r.Host != "" {
		req.Host = r.Host
	}
	if body != nil && r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}

	return c.Do(req)
}
