// Package client provides the retrying upstream HTTP client for the Discogs API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"discogs-proxy-go/internal/config"
	"discogs-proxy-go/internal/metrics"
	"discogs-proxy-go/internal/model"
	"discogs-proxy-go/internal/telemetry"
)

// RetryPolicy bounds the upstream call loop. Timeout applies per attempt,
// not per logical call: worst-case latency is
// MaxAttempts × (Timeout + BackoffMax).
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
}

// PolicyFromConfig derives the retry policy from configuration.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.Upstream.MaxAttempts,
		BackoffBase: time.Duration(cfg.Upstream.BackoffBaseMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Upstream.BackoffMaxMS) * time.Millisecond,
		Timeout:     time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}
}

// backoff returns the jittered delay before the next attempt: exponential
// growth off the base with half jitter, capped at BackoffMax. Jitter keeps
// concurrent callers from synchronizing their retry storms.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BackoffBase << (attempt - 1)
	if p.BackoffMax > 0 && d > p.BackoffMax {
		d = p.BackoffMax
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(half+1)
}

// DiscogsClient sends requests to the upstream Discogs API with bounded
// retries on transient failures (network timeout, connection reset, 5xx).
type DiscogsClient struct {
	httpClient *http.Client
	policy     RetryPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sink       telemetry.Sink
}

// NewDiscogsClient creates a DiscogsClient with connection pooling.
// The metrics and sink parameters are optional; pass nil to disable.
func NewDiscogsClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, sink telemetry.Sink) *DiscogsClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &DiscogsClient{
		httpClient: &http.Client{Transport: transport},
		policy:     PolicyFromConfig(cfg),
		logger:     logger.With("component", "discogs_client"),
		metrics:    m,
		sink:       sink,
	}
}

// Do executes the upstream call, retrying transient failures up to the
// policy's attempt limit. It returns the upstream response with the body
// fully buffered; a final 5xx is returned as a response and classified by
// the relay. When no response was obtained the error is a *model.ProxyError
// of kind timeout or upstream_error, or the context's error if the caller
// disconnected.
func (c *DiscogsClient) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte, entityName, traceID string) (*model.ProxyResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, method, rawURL, header, body, entityName)

		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}

		// Inbound cancellation aborts immediately; it is not a transient
		// upstream failure.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upstream request: %w", ctx.Err())
		}

		errType := "upstream_5xx"
		if err != nil {
			errType = errorType(err)
		}

		if attempt >= c.policy.MaxAttempts {
			if err == nil {
				return resp, nil
			}
			if isTimeout(err) {
				return nil, model.NewError(model.KindTimeout, "upstream_timeout")
			}
			return nil, model.NewError(model.KindUpstreamError, "bad_gateway")
		}

		delay := c.policy.backoff(attempt)
		if c.metrics != nil {
			c.metrics.UpstreamRetries.WithLabelValues(entityName, errType).Inc()
		}
		if c.sink != nil {
			c.sink.Emit(telemetry.Event{
				Name:      telemetry.EventRetry,
				Entity:    entityName,
				TraceID:   traceID,
				Attempt:   attempt,
				BackoffMS: float64(delay.Milliseconds()),
				ErrorType: errType,
			})
		}
		c.logger.Warn("transient upstream failure, retrying",
			"entity", entityName,
			"attempt", attempt,
			"backoff_ms", delay.Milliseconds(),
			"error_type", errType,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("upstream request: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// attempt performs exactly one upstream call under the per-attempt timeout
// and buffers the response body.
func (c *DiscogsClient) attempt(ctx context.Context, method, rawURL string, header http.Header, body []byte, entityName string) (*model.ProxyResponse, error) {
	actx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, rawURL, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(entityName).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(entityName, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// errorType returns a bounded label for a transport failure.
func errorType(err error) string {
	switch {
	case isTimeout(err):
		return "timeout"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	default:
		return "transport"
	}
}
