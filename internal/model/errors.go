package model

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a proxy failure. The kind string is what callers see
// in the "error" field of structured error bodies.
type ErrorKind string

const (
	KindUnauthorized      ErrorKind = "unauthorized"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindSecretsUnresolved ErrorKind = "secrets_unresolved"
	KindMisconfigured     ErrorKind = "server_misconfigured"
	KindUpstreamError     ErrorKind = "upstream_error"
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal_error"
)

// HTTPStatus maps an error kind to the caller-facing status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindSecretsUnresolved, KindMisconfigured:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ProxyError is a classified failure surfaced to the caller as a structured
// JSON body. Reason carries the machine-readable detail ("reason" field, or
// "which" for unresolved secrets).
type ProxyError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ProxyError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewError builds a ProxyError.
func NewError(kind ErrorKind, reason string) *ProxyError {
	return &ProxyError{Kind: kind, Reason: reason}
}
