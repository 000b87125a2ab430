// Package service implements the core proxy mediation pipeline: parameter
// filtering, upstream header construction, the retried upstream call, and
// the response relay.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"discogs-proxy-go/internal/client"
	"discogs-proxy-go/internal/config"
	"discogs-proxy-go/internal/entity"
	"discogs-proxy-go/internal/model"
	"discogs-proxy-go/internal/telemetry"
)

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.discogs.com": true,
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.DiscogsClient
	cfg     *config.Config
	secrets *config.Store
	sink    telemetry.Sink
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.DiscogsClient, cfg *config.Config, secrets *config.Store, sink telemetry.Sink, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		secrets: secrets,
		sink:    sink,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.DiscogsClient, cfg *config.Config, secrets *config.Store, sink telemetry.Sink, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		secrets: secrets,
		sink:    sink,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Forward validates the request against the entity's allow-list, builds the
// upstream header set, executes the retried upstream call, and relays the
// result. The trace identifier is generated here, once per logical call, so
// all retry attempts and the final telemetry record correlate.
func (s *ProxyService) Forward(pr *model.ProxyRequest, ent *entity.Entity) (*model.ProxyResponse, error) {
	secrets := s.secrets.Current()
	if secrets.TokenDangling() || (ent.RequiresToken && !secrets.TokenResolved()) {
		return nil, model.NewError(model.KindSecretsUnresolved, "DISCOGS_TOKEN")
	}

	rawQuery, err := ent.FilterQuery(pr.RawQuery)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	header := s.buildUpstreamHeaders(pr.Header, secrets)
	upstreamURL := s.buildUpstreamURL(pr.Path, rawQuery)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"entity", ent.Name,
		"trace_id", traceID,
	)

	start := time.Now()
	resp, err := s.client.Do(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, ent.Name, traceID)
	elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		if pr.Ctx.Err() != nil {
			// The caller disconnected: no completed record, only a
			// cancellation marker.
			s.emit(telemetry.Event{
				Name:      telemetry.EventCancelled,
				Entity:    ent.Name,
				Method:    pr.Method,
				ElapsedMS: elapsedMS,
				TraceID:   traceID,
			})
			return nil, fmt.Errorf("forward to upstream: %w", pr.Ctx.Err())
		}
		s.emit(telemetry.Event{
			Name:      telemetry.EventCall,
			Entity:    ent.Name,
			Method:    pr.Method,
			ElapsedMS: elapsedMS,
			TraceID:   traceID,
		})
		return nil, err
	}

	s.emit(telemetry.Event{
		Name:      telemetry.EventCall,
		Entity:    ent.Name,
		Method:    pr.Method,
		Status:    resp.StatusCode,
		ElapsedMS: elapsedMS,
		TraceID:   traceID,
	})

	return s.relay(resp, traceID, pr.Host), nil
}

func (s *ProxyService) emit(ev telemetry.Event) {
	if s.sink != nil {
		s.sink.Emit(ev)
	}
}

// buildUpstreamHeaders derives the exact header set sent upstream: the
// fixed client identity, the Accept type, the bearer credential, and the
// caller's conditional validator and Content-Type. The caller's shared
// secret is never forwarded.
func (s *ProxyService) buildUpstreamHeaders(inbound http.Header, secrets config.Secrets) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", s.cfg.Discogs.UserAgent)
	h.Set("Accept", "application/json")
	if secrets.TokenResolved() {
		h.Set("Authorization", "Discogs token="+secrets.Token)
	}
	if v := inbound.Get("If-None-Match"); v != "" {
		h.Set("If-None-Match", v)
	}
	if v := inbound.Get("Content-Type"); v != "" {
		h.Set("Content-Type", v)
	}
	return h
}

func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = path
	u.RawQuery = rawQuery
	return u.String()
}
