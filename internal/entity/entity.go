// Package entity defines the upstream resource types the proxy mediates
// and their query parameter allow-lists.
package entity

import (
	"strings"

	"discogs-proxy-go/internal/model"
)

// Entity describes one logical upstream resource type.
type Entity struct {
	Name string

	// RequiresToken marks entities that Discogs only serves with an
	// authenticated request; dispatch fails with secrets_unresolved when
	// the token is not available.
	RequiresToken bool

	// Params is the allow-list of query parameter names forwarded
	// upstream. Keys not listed are silently dropped.
	Params []string

	// RequireParams rejects the request when the filtered query is empty.
	RequireParams bool

	// Aliases maps caller-facing parameter names onto the upstream name.
	// An alias is applied only when the target key is absent from the
	// inbound query.
	Aliases map[string]string
}

var paginationParams = []string{"page", "per_page"}

// searchParams is the full Discogs database-search filter set.
var searchParams = []string{
	"q", "type", "title", "release_title", "credit", "artist", "anv",
	"label", "genre", "style", "country", "year", "format", "catno",
	"barcode", "track", "submitter", "contributor",
	"page", "per_page", "sort", "sort_order",
}

var (
	Artist          = &Entity{Name: "artist"}
	ArtistReleases  = &Entity{Name: "artist_releases", Params: []string{"page", "per_page", "sort", "sort_order"}}
	Release         = &Entity{Name: "release"}
	Master          = &Entity{Name: "master"}
	MasterVersions  = &Entity{Name: "master_versions", Params: paginationParams}
	Label           = &Entity{Name: "label"}
	LabelReleases   = &Entity{Name: "label_releases", Params: paginationParams}
	LabelSublabels  = &Entity{Name: "label_sublabels", Params: paginationParams}
	Search          = &Entity{Name: "search", Params: searchParams, RequireParams: true, Aliases: map[string]string{"query": "q"}}
	PriceSuggestion = &Entity{Name: "price_suggestions", RequiresToken: true}
	ListingCreate   = &Entity{Name: "listing_create", RequiresToken: true}
	ListingDelete   = &Entity{Name: "listing_delete", RequiresToken: true}
	CollectionFld   = &Entity{Name: "collection_folders", RequiresToken: true}
	CollectionAdd   = &Entity{Name: "collection_add", RequiresToken: true}
	Wantlist        = &Entity{Name: "wantlist", RequiresToken: true, Params: paginationParams}
	WantlistUpsert  = &Entity{Name: "wantlist_upsert", RequiresToken: true, Params: []string{"notes", "rating"}}
	WantlistDelete  = &Entity{Name: "wantlist_delete", RequiresToken: true}
)

// FilterQuery returns the subset of rawQuery whose keys appear in the
// entity's allow-list (case-sensitive exact match). It operates on the raw
// query string so the caller-provided pair order and value bytes survive
// untouched. Unknown keys are dropped silently; an empty result on an
// entity with RequireParams yields an invalid_request error.
func (e *Entity) FilterQuery(rawQuery string) (string, error) {
	if rawQuery == "" && !e.RequireParams {
		return "", nil
	}

	allowed := make(map[string]bool, len(e.Params))
	for _, p := range e.Params {
		allowed[p] = true
	}

	pairs := strings.Split(rawQuery, "&")

	// Aliases apply only when the upstream key is not already present.
	present := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if key != "" {
			present[key] = true
		}
	}

	var kept []string
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, val, hasVal := strings.Cut(pair, "=")
		if target, ok := e.Aliases[key]; ok && !present[target] {
			key = target
			if hasVal {
				pair = key + "=" + val
			} else {
				pair = key
			}
		}
		if allowed[key] {
			kept = append(kept, pair)
		}
	}

	if e.RequireParams && len(kept) == 0 {
		return "", model.NewError(model.KindInvalidRequest, "no_supported_search_params")
	}
	return strings.Join(kept, "&"), nil
}
