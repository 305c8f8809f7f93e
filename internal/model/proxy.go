// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
// Path is backend-relative: the route prefix has already been mapped.
// RawQuery is the inbound query string exactly as received.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse represents the raw upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Envelope is the error payload returned for every synthesized failure.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}
