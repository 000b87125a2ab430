package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Everything
// under /api except the liveness ping requires the shared-secret check.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, clientAuth echo.MiddlewareFunc) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	api := e.Group("/api")
	api.GET("/ping", health.Ping)

	g := api.Group("", clientAuth)
	g.GET("/artists/:id", proxy.Artist)
	g.GET("/artists/:id/releases", proxy.ArtistReleases)
	g.GET("/releases/:id", proxy.Release)
	g.GET("/masters/:id", proxy.Master)
	g.GET("/masters/:id/versions", proxy.MasterVersions)
	g.GET("/labels/:id", proxy.Label)
	g.GET("/labels/:id/releases", proxy.LabelReleases)
	g.GET("/labels/:id/sublabels", proxy.LabelSublabels)
	g.GET("/database/search", proxy.Search)
	g.GET("/marketplace/price_suggestions/:id", proxy.PriceSuggestions)
	g.POST("/marketplace/listings", proxy.ListingCreate)
	g.DELETE("/marketplace/listings/:id", proxy.ListingDelete)
	g.GET("/users/:username/collection/folders", proxy.CollectionFolders)
	g.POST("/users/:username/collection/folders/:folder_id/releases/:release_id", proxy.CollectionAdd)
	g.GET("/users/:username/wants", proxy.Wantlist)
	g.PUT("/users/:username/wants/:release_id", proxy.WantlistUpsert)
	g.DELETE("/users/:username/wants/:release_id", proxy.WantlistDelete)

	// Unmatched paths get a generic body and never reach the upstream.
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	})
}
