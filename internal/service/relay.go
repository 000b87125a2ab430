package service

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"discogs-proxy-go/internal/model"
)

// relayedResponseHeaders is the full set of upstream response headers passed
// through to the caller. Anything not listed here is stripped; this table is
// the single source of truth for the pass-through policy.
var relayedResponseHeaders = []string{
	"Link",
	"ETag",
	"X-Discogs-Ratelimit",
	"X-Discogs-Ratelimit-Used",
	"X-Discogs-Ratelimit-Remaining",
	"X-Discogs-Ratelimit-Reset",
}

// relay maps the upstream status and headers onto the caller-facing
// response. Success bodies pass through unmodified (unless URL rewriting is
// turned on); failure statuses get structured JSON bodies instead of the
// upstream's raw error payload.
func (s *ProxyService) relay(up *model.ProxyResponse, traceID, host string) *model.ProxyResponse {
	hdr := make(http.Header)
	for _, k := range relayedResponseHeaders {
		if v := up.Header.Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	hdr.Set("X-Trace-Id", traceID)

	switch {
	case up.StatusCode == http.StatusNotModified:
		return &model.ProxyResponse{StatusCode: http.StatusNotModified, Header: hdr}

	case up.StatusCode >= 200 && up.StatusCode < 300:
		body := up.Body
		if len(body) == 0 {
			return &model.ProxyResponse{StatusCode: up.StatusCode, Header: hdr}
		}
		ct := up.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/json"
		}
		if s.cfg.Upstream.RewriteURLs && host != "" {
			if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "application/json" {
				body = rewriteUpstreamURLs(body, "https://"+host+"/api")
			}
		}
		hdr.Set("Content-Type", ct)
		return &model.ProxyResponse{StatusCode: up.StatusCode, Header: hdr, Body: body}

	case up.StatusCode == http.StatusNotFound:
		return errorResponse(hdr, http.StatusNotFound, map[string]any{
			"error":    "not_found",
			"trace_id": traceID,
		})

	case up.StatusCode == http.StatusTooManyRequests:
		return errorResponse(hdr, http.StatusTooManyRequests, map[string]any{
			"error":     "rate_limited",
			"trace_id":  traceID,
			"limit":     up.Header.Get("X-Discogs-Ratelimit"),
			"remaining": up.Header.Get("X-Discogs-Ratelimit-Remaining"),
			"reset":     up.Header.Get("X-Discogs-Ratelimit-Reset"),
		})

	case up.StatusCode >= 500:
		return errorResponse(hdr, http.StatusBadGateway, map[string]any{
			"error":           "upstream_error",
			"upstream_status": up.StatusCode,
			"trace_id":        traceID,
		})

	default:
		return errorResponse(hdr, up.StatusCode, map[string]any{
			"error":           "unexpected_status",
			"upstream_status": up.StatusCode,
			"trace_id":        traceID,
		})
	}
}

func errorResponse(hdr http.Header, status int, body map[string]any) *model.ProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		b = []byte(`{"error":"internal_error"}`)
	}
	hdr.Set("Content-Type", "application/json")
	return &model.ProxyResponse{StatusCode: status, Header: hdr, Body: b}
}

// upstreamURLPrefixes are the literal forms of upstream links that get
// rewritten to the proxy's own base.
var upstreamURLPrefixes = []string{
	"https://api.discogs.com",
	"http://api.discogs.com",
}

// rewriteUpstreamURLs replaces api.discogs.com links inside a JSON document
// with the proxy's own base so callers chain follow-up requests back through
// the proxy. On any decode failure the original body is returned untouched.
func rewriteUpstreamURLs(body []byte, proxyBase string) []byte {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	doc = rewriteValue(doc, proxyBase)
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func rewriteValue(v any, proxyBase string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = rewriteValue(val, proxyBase)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = rewriteValue(val, proxyBase)
		}
		return t
	case string:
		for _, prefix := range upstreamURLPrefixes {
			if strings.HasPrefix(t, prefix+"/") {
				return proxyBase + t[len(prefix):]
			}
		}
		return t
	default:
		return v
	}
}
