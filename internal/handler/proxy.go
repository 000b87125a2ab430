// Package handler dispatches inbound API paths onto the proxy pipeline. It
// is the only component aware of the path-to-entity mapping.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"discogs-proxy-go/internal/entity"
	"discogs-proxy-go/internal/model"
	"discogs-proxy-go/internal/service"
)

// ProxyHandler forwards API requests to the upstream Discogs API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// handle runs the shared pipeline for one entity: buffer the body, forward
// through the service, and write the relayed response.
func (h *ProxyHandler) handle(c echo.Context, ent *entity.Entity, upstreamPath string) error {
	req := c.Request()

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error":  "invalid_request",
				"reason": "unreadable_body",
			})
		}
		body = b
	}

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     upstreamPath,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
		Host:     req.Host,
	}

	resp, err := h.service.Forward(pr, ent)
	if err != nil {
		return h.mapError(c, err)
	}

	out := c.Response()
	for k, vals := range resp.Header {
		for _, v := range vals {
			out.Header().Add(k, v)
		}
	}
	if len(resp.Body) == 0 {
		return c.NoContent(resp.StatusCode)
	}
	out.WriteHeader(resp.StatusCode)
	if _, err := out.Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var pe *model.ProxyError
	if errors.As(err, &pe) {
		h.logger.Warn("proxy error",
			"kind", string(pe.Kind),
			"reason", pe.Reason,
			"path", c.Request().URL.Path,
		)
		body := echo.Map{"error": string(pe.Kind)}
		if pe.Reason != "" {
			// Unresolved-secret errors name the offending value in "which"
			// rather than "reason".
			if pe.Kind == model.KindSecretsUnresolved {
				body["which"] = pe.Reason
			} else {
				body["reason"] = pe.Reason
			}
		}
		return c.JSON(pe.Kind.HTTPStatus(), body)
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "client_disconnected"})
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "timeout"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Artist proxies a single-artist lookup.
func (h *ProxyHandler) Artist(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "artist_id must be an integer"})
	}
	return h.handle(c, entity.Artist, "/artists/"+id)
}

// ArtistReleases proxies an artist's release listing with pagination.
func (h *ProxyHandler) ArtistReleases(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "artist_id must be an integer"})
	}
	return h.handle(c, entity.ArtistReleases, "/artists/"+id+"/releases")
}

// Release proxies a single-release lookup; If-None-Match passes through so
// the upstream can answer 304.
func (h *ProxyHandler) Release(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "release_id must be an integer"})
	}
	return h.handle(c, entity.Release, "/releases/"+id)
}

// Master proxies a master-release lookup.
func (h *ProxyHandler) Master(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "master_id must be an integer"})
	}
	return h.handle(c, entity.Master, "/masters/"+id)
}

// MasterVersions proxies a master's version listing.
func (h *ProxyHandler) MasterVersions(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "master_id must be an integer"})
	}
	return h.handle(c, entity.MasterVersions, "/masters/"+id+"/versions")
}

// Label proxies a label lookup.
func (h *ProxyHandler) Label(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "label_id must be an integer"})
	}
	return h.handle(c, entity.Label, "/labels/"+id)
}

// LabelReleases proxies a label's release listing.
func (h *ProxyHandler) LabelReleases(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "label_id must be an integer"})
	}
	return h.handle(c, entity.LabelReleases, "/labels/"+id+"/releases")
}

// LabelSublabels proxies a label's sublabel listing.
func (h *ProxyHandler) LabelSublabels(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "label_id must be an integer"})
	}
	return h.handle(c, entity.LabelSublabels, "/labels/"+id+"/sublabels")
}

// Search proxies the database search; the entity allow-list requires at
// least one supported filter.
func (h *ProxyHandler) Search(c echo.Context) error {
	return h.handle(c, entity.Search, "/database/search")
}

// PriceSuggestions proxies marketplace price suggestions; the upstream only
// serves this to authenticated requests.
func (h *ProxyHandler) PriceSuggestions(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "release_id must be an integer"})
	}
	return h.handle(c, entity.PriceSuggestion, "/marketplace/price_suggestions/"+id)
}

// listingRequiredFields are checked before a marketplace listing is created.
var listingRequiredFields = []string{"release_id", "condition", "price"}

// ListingCreate validates the listing payload and proxies the creation.
func (h *ProxyHandler) ListingCreate(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":  "invalid_request",
			"reason": "unreadable_body",
		})
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_json"})
	}
	var missing []string
	for _, f := range listingRequiredFields {
		if _, ok := doc[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":  "missing_fields",
			"fields": strings.Join(missing, ","),
		})
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))
	return h.handle(c, entity.ListingCreate, "/marketplace/listings")
}

// ListingDelete proxies a marketplace listing deletion.
func (h *ProxyHandler) ListingDelete(c echo.Context) error {
	id := c.Param("id")
	if !isDigits(id) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "listing_id must be an integer"})
	}
	return h.handle(c, entity.ListingDelete, "/marketplace/listings/"+id)
}

// CollectionFolders proxies a user's collection folder listing.
func (h *ProxyHandler) CollectionFolders(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	return h.handle(c, entity.CollectionFld, "/users/"+username+"/collection/folders")
}

// CollectionAdd proxies adding a release to a collection folder.
func (h *ProxyHandler) CollectionAdd(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	folderID := c.Param("folder_id")
	if !isDigits(folderID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "folder_id must be an integer"})
	}
	releaseID := c.Param("release_id")
	if !isDigits(releaseID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "release_id must be an integer"})
	}
	return h.handle(c, entity.CollectionAdd,
		"/users/"+username+"/collection/folders/"+folderID+"/releases/"+releaseID)
}

// Wantlist proxies a user's wantlist with pagination.
func (h *ProxyHandler) Wantlist(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	return h.handle(c, entity.Wantlist, "/users/"+username+"/wants")
}

// WantlistUpsert proxies adding or updating a wantlist item.
func (h *ProxyHandler) WantlistUpsert(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	releaseID := c.Param("release_id")
	if !isDigits(releaseID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "release_id must be an integer"})
	}
	return h.handle(c, entity.WantlistUpsert, "/users/"+username+"/wants/"+releaseID)
}

// WantlistDelete proxies removing a wantlist item.
func (h *ProxyHandler) WantlistDelete(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	releaseID := c.Param("release_id")
	if !isDigits(releaseID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "release_id must be an integer"})
	}
	return h.handle(c, entity.WantlistDelete, "/users/"+username+"/wants/"+releaseID)
}
