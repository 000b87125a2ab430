package middleware

import (
	"github.com/labstack/echo/v4"
)

// strippedRequestHeaders are removed from inbound requests before any
// handler sees them: the hop-by-hop set a proxy must not forward, plus
// Authorization. Callers authenticate with x-api-key only; the upstream
// credential is injected by the service and an inbound Authorization
// header must never survive to that point.
var strippedRequestHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Authorization",
}

// SecurityHeaders returns an Echo middleware that sanitizes inbound
// headers and adds response hardening headers. The response headers are
// set before the handler runs so they are present once the body is
// committed.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range strippedRequestHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}
