// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents a validated client request to be forwarded upstream.
// Body is buffered so the client can replay it across retry attempts.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string // upstream path, built by the router
	RawQuery string // inbound query string, filtered by the entity allow-list before dispatch
	Header   http.Header
	Body     []byte
	Host     string // inbound Host header, used only for optional URL rewriting
}

// ProxyResponse represents an upstream response after relaying.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
