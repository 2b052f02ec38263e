package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"cal-edge/internal/edge"
	"cal-edge/internal/model"
	"cal-edge/internal/service"
)

// EdgeHandler runs the middleware chain for matching paths and relays the request
// to the web application.
type EdgeHandler struct {
	chain   *edge.Chain
	forward *service.ForwardService
	logger  *slog.Logger
}

// NewEdgeHandler creates an EdgeHandler.
func NewEdgeHandler(chain *edge.Chain, fwd *service.ForwardService, logger *slog.Logger) *EdgeHandler {
	return &EdgeHandler{
		chain:   chain,
		forward: fwd,
		logger:  logger.With("component", "edge_handler"),
	}
}

// Handle is the catch-all entry point.
func (h *EdgeHandler) Handle(c echo.Context) error {
	req := c.Request()
	if !h.chain.Matches(req.URL.Path) {
		return h.relay(c, req.URL.Path, req.Header, nil)
	}

	res := h.chain.Run(req.Context(), edge.NewState(req))
	switch res.Kind {
	case edge.KindRedirect:
		copyHeader(c.Response().Header(), res.Header)
		return c.Redirect(res.Status, res.Location)
	case edge.KindRespond:
		copyHeader(c.Response().Header(), res.Header)
		return c.JSON(res.Status, res.Body)
	case edge.KindRewrite:
		return h.relay(c, res.Path, req.Header, res.Header)
	default:
		return h.relay(c, res.Path, res.Forward, res.Header)
	}
}

// relay forwards the inbound request under path with header and streams the reply.
// extra is merged over the upstream response headers.
func (h *EdgeHandler) relay(c echo.Context, path string, header, extra http.Header) error {
	req := c.Request()

	ur := &model.UpstreamRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          path,
		RawQuery:      req.URL.RawQuery,
		Host:          req.Host,
		Header:        header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ClientIP:      peerIP(req),
	}

	resp, err := h.forward.Forward(ur)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	copyHeader(dst, resp.Header)
	mergeHeader(dst, extra)

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already sent; a copy failure leaves a truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *EdgeHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("upstream error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

func copyHeader(dst, src http.Header) {
	for key, vals := range src {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

// mergeHeader appends cookies and replaces every other header.
func mergeHeader(dst, src http.Header) {
	for key, vals := range src {
		if key == "Set-Cookie" {
			for _, v := range vals {
				dst.Add(key, v)
			}
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
}

// peerIP is the address of the connected client. Client-supplied forwarding
// headers are not consulted; the forwarder appends this address to them.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
