// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// UpstreamRequest is a client request on its way to the web app. Path may differ from
// the inbound path when the middleware chain rewrote it.
type UpstreamRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawQuery      string
	Host          string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	ClientIP      string
}

// UpstreamResponse is the web app's response, streamed back to the client.
// The receiver owns Body and must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
