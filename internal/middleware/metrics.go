package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"discogs-proxy-go/internal/metrics"
)

// statusLabel resolves the status code a request will end up with. When a
// handler returns an *echo.HTTPError the response has not been written
// yet; the central error handler writes it later, so the error carries
// the authoritative code.
func statusLabel(c echo.Context, err error) string {
	code := c.Response().Status
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		code = he.Code
	}
	return strconv.Itoa(code)
}

// MetricsMiddleware returns an Echo middleware recording inbound request
// counts, latency, and in-flight gauge with bounded label cardinality.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				statusLabel(c, err),
				metrics.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
