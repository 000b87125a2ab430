package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"discogs-proxy-go/internal/client"
	"discogs-proxy-go/internal/config"
	"discogs-proxy-go/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp wires a full Echo app against an httptest upstream. Auth is
// disabled so these tests exercise the dispatch pipeline in isolation;
// routes_test.go covers the shared-secret check.
func newTestApp(t *testing.T, upstream http.HandlerFunc, token string) (*echo.Echo, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Auth:    config.AuthConfig{DisableCheck: true},
		Discogs: config.DiscogsConfig{Token: token, UserAgent: "DiscogsAgent/0.1"},
		Upstream: config.UpstreamConfig{
			BaseURL:         srv.URL,
			TimeoutSeconds:  5,
			IdleConnections: 10,
			MaxAttempts:     2,
			BackoffBaseMS:   1,
			BackoffMaxMS:    2,
		},
	}
	logger := testLogger()
	store := config.NewStore(cfg, logger)
	dc := client.NewDiscogsClient(cfg, logger, nil, nil)
	svc, err := service.NewProxyServiceForTest(dc, cfg, store, nil, logger)
	if err != nil {
		t.Fatalf("NewProxyServiceForTest: %v", err)
	}

	e := echo.New()
	proxy := NewProxyHandler(svc, logger)
	health := NewHealthHandler(cfg, store, "test")
	passthrough := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	RegisterRoutes(e, proxy, health, passthrough)
	return e, &hits
}

func doRequest(e *echo.Echo, method, target string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestArtistLookup(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artists/108713" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":108713,"name":"Aphex Twin"}`))
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/artists/108713", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"id":108713`) {
		t.Errorf("body = %s, want upstream payload verbatim", rec.Body)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("X-Trace-Id missing")
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}
}

func TestInvalidIDRejected(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "tok")

	tests := []struct {
		name   string
		method string
		target string
		want   string
	}{
		{"artist", http.MethodGet, "/api/artists/abc", "artist_id must be an integer"},
		{"release", http.MethodGet, "/api/releases/12x", "release_id must be an integer"},
		{"master", http.MethodGet, "/api/masters/-1", "master_id must be an integer"},
		{"label", http.MethodGet, "/api/labels/1.5", "label_id must be an integer"},
		{"listing delete", http.MethodDelete, "/api/marketplace/listings/oops", "listing_id must be an integer"},
		{"wantlist release", http.MethodPut, "/api/users/alice/wants/oops", "release_id must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, tt.method, tt.target, nil, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
	if hits.Load() != 0 {
		t.Errorf("upstream hits = %d, want 0 for rejected ids", hits.Load())
	}
}

func TestSearchWithoutSupportedParams(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/database/search?bogus=1", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "invalid_request" || body["reason"] != "no_supported_search_params" {
		t.Errorf("body = %v", body)
	}
	if hits.Load() != 0 {
		t.Error("unsupported search must not reach the upstream")
	}
}

func TestSearchQueryAlias(t *testing.T) {
	e, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.RawQuery; got != "q=nirvana" {
			t.Errorf("upstream query = %q, want q=nirvana", got)
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/database/search?query=nirvana", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestConditionalRequestPassthrough(t *testing.T) {
	e, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.Header().Set("ETag", `"v1"`)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"id":249504}`))
	}, "tok")

	first := doRequest(e, http.MethodGet, "/api/releases/249504", nil, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if etag != `"v1"` {
		t.Fatalf("ETag = %q, want relayed", etag)
	}

	second := doRequest(e, http.MethodGet, "/api/releases/249504", nil, map[string]string{"If-None-Match": etag})
	if second.Code != http.StatusNotModified {
		t.Fatalf("second status = %d, want 304", second.Code)
	}
	if second.Body.Len() != 0 {
		t.Errorf("304 body = %q, want empty", second.Body)
	}
}

func TestWantlistUpsertWithoutToken(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, "")

	rec := doRequest(e, http.MethodPut, "/api/users/alice/wants/249504", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "secrets_unresolved" || body["which"] != "DISCOGS_TOKEN" {
		t.Errorf("body = %v, want secrets_unresolved naming DISCOGS_TOKEN", body)
	}
	if hits.Load() != 0 {
		t.Error("a write without the upstream credential must not reach the upstream")
	}
}

func TestWantlistDeleteRelaysNoContent(t *testing.T) {
	e, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("upstream method = %q", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}, "tok")

	rec := doRequest(e, http.MethodDelete, "/api/users/alice/wants/249504", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body)
	}
}

func TestListingCreateValidation(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"listing_id":1}`))
	}, "tok")

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{"invalid json", `{not json`, http.StatusBadRequest, "invalid_json"},
		{"missing fields", `{"release_id":1}`, http.StatusBadRequest, "missing_fields"},
		{"empty body", ``, http.StatusBadRequest, "missing_fields"},
		{"complete", `{"release_id":1,"condition":"Mint (M)","price":10.5}`, http.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/marketplace/listings",
				strings.NewReader(tt.body), map[string]string{"Content-Type": "application/json"})
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantError != "" {
				var body map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if body["error"] != tt.wantError {
					t.Errorf("error = %v, want %q", body["error"], tt.wantError)
				}
			}
		})
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1 (only the complete payload)", hits.Load())
	}
}

func TestListingCreateBodyReachesUpstream(t *testing.T) {
	payload := `{"release_id":1,"condition":"Mint (M)","price":10.5}`
	e, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		if string(got) != payload {
			t.Errorf("upstream body = %q, want %q", got, payload)
		}
		w.WriteHeader(http.StatusCreated)
	}, "tok")

	rec := doRequest(e, http.MethodPost, "/api/marketplace/listings",
		strings.NewReader(payload), map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpstreamNotFoundSynthesized(t *testing.T) {
	e, _ := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream html error page", http.StatusNotFound)
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/artists/999999999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, rec.Body)
	}
	if body["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", body["error"])
	}
	if body["trace_id"] == "" || body["trace_id"] == nil {
		t.Error("trace_id missing from synthesized body")
	}
}

func TestUpstreamFailureBecomesBadGateway(t *testing.T) {
	e, hits := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/artists/1", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "upstream_error" {
		t.Errorf("error = %v", body["error"])
	}
	// MaxAttempts is 2 in the test config; a persistent 5xx is retried once.
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2", hits.Load())
	}
}

func TestRateLimitHeadersRelayed(t *testing.T) {
	e, _ := newTestApp(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Discogs-Ratelimit", "60")
		w.Header().Set("X-Discogs-Ratelimit-Used", "12")
		w.Header().Set("X-Discogs-Ratelimit-Remaining", "48")
		w.Header().Set("X-Discogs-Ratelimit-Reset", "30")
		w.Header().Set("Set-Cookie", "session=abc")
		_, _ = w.Write([]byte(`{}`))
	}, "tok")

	rec := doRequest(e, http.MethodGet, "/api/artists/1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Discogs-Ratelimit-Remaining") != "48" {
		t.Error("rate limit headers should relay")
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("Set-Cookie must be stripped")
	}
}
