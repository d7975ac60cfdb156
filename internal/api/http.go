// Package api exposes the engine over two surfaces: MCP tools on stdio and
// a bearer-authenticated HTTP API. Both speak the same response shapes and
// the same structured error object, {"error":{"kind","message"}}.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-labs/wikidex/internal/confluence"
	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/search"
	"github.com/meridian-labs/wikidex/internal/syncer"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Searcher answers knowledge queries.
type Searcher interface {
	Search(ctx context.Context, spaceKey, query string, topK int) ([]search.Result, error)
}

// SyncRunner reconciles a space into the index.
type SyncRunner interface {
	Run(ctx context.Context, spaceKey string, full bool) (syncer.Summary, error)
}

// SourceInfo provides space and recency metadata from the wiki.
type SourceInfo interface {
	ListSpaces(ctx context.Context) ([]confluence.Space, error)
	RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]confluence.PageHeader, error)
}

// LedgerInfo exposes synced-page counts.
type LedgerInfo interface {
	CountPages(spaceKey string) (int, error)
}

// Deps holds the dependencies shared by the HTTP and MCP surfaces.
type Deps struct {
	Searcher Searcher
	Syncer   SyncRunner
	Source   SourceInfo
	Ledger   LedgerInfo
	Token    string
}

type searchRequest struct {
	Query    string `json:"query"`
	SpaceKey string `json:"space_key"`
	TopK     int    `json:"top_k"`
}

type searchResult struct {
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	PageID       string  `json:"page_id"`
	PageTitle    string  `json:"page_title"`
	PageURL      string  `json:"page_url"`
	LastModified string  `json:"last_modified"`
}

type searchResponse struct {
	Query    string         `json:"query"`
	SpaceKey string         `json:"space_key"`
	Results  []searchResult `json:"results"`
}

type syncRequest struct {
	SpaceKey string `json:"space_key"`
	FullSync bool   `json:"full_sync"`
}

type syncResponse struct {
	SpaceKey       string   `json:"space_key"`
	FullSync       bool     `json:"full_sync"`
	PagesProcessed int      `json:"pages_processed"`
	PagesFailed    []string `json:"pages_failed"`
	PagesSkipped   int      `json:"pages_skipped"`
	ChunksUpserted int      `json:"chunks_upserted"`
	ChunksDeleted  int      `json:"chunks_deleted"`
}

type spaceInfo struct {
	SpaceKey  string `json:"space_key"`
	Name      string `json:"name"`
	PageCount int    `json:"page_count"`
}

type recentUpdate struct {
	PageID       string `json:"page_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
}

func toSearchResults(results []search.Result) []searchResult {
	out := make([]searchResult, len(results))
	for i, r := range results {
		out[i] = searchResult{
			Text:         r.Text,
			Score:        r.Score,
			PageID:       r.PageID,
			PageTitle:    r.PageTitle,
			PageURL:      r.PageURL,
			LastModified: r.LastModified,
		}
	}
	return out
}

func toSyncResponse(sum syncer.Summary) syncResponse {
	failed := sum.PagesFailed
	if failed == nil {
		failed = []string{}
	}
	return syncResponse{
		SpaceKey:       sum.SpaceKey,
		FullSync:       sum.Full,
		PagesProcessed: sum.PagesProcessed,
		PagesFailed:    failed,
		PagesSkipped:   sum.PagesSkipped,
		ChunksUpserted: sum.ChunksUpserted,
		ChunksDeleted:  sum.ChunksDeleted,
	}
}

// NewHTTPHandler builds the HTTP API. /health is open; everything else
// requires the bearer token.
func NewHTTPHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/v1/search", handleSearch(deps))
		r.Post("/v1/sync", handleSync(deps))
		r.Get("/v1/spaces", handleSpaces(deps))
		r.Get("/v1/recent", handleRecent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, errkind.InvalidArgument, "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, errkind.InvalidArgument, "query is required")
			return
		}
		if req.SpaceKey == "" {
			httpError(w, http.StatusBadRequest, errkind.InvalidArgument, "space_key is required")
			return
		}

		results, err := deps.Searcher.Search(r.Context(), req.SpaceKey, req.Query, req.TopK)
		if err != nil {
			httpErrorFrom(w, err)
			return
		}

		writeJSON(w, searchResponse{
			Query:    req.Query,
			SpaceKey: req.SpaceKey,
			Results:  toSearchResults(results),
		})
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, errkind.InvalidArgument, "invalid request body: %v", err)
			return
		}
		if req.SpaceKey == "" {
			httpError(w, http.StatusBadRequest, errkind.InvalidArgument, "space_key is required")
			return
		}

		sum, err := deps.Syncer.Run(r.Context(), req.SpaceKey, req.FullSync)
		if err != nil {
			httpErrorFrom(w, err)
			return
		}

		writeJSON(w, toSyncResponse(sum))
	}
}

func handleSpaces(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := spaceInfos(r.Context(), deps)
		if err != nil {
			httpErrorFrom(w, err)
			return
		}
		writeJSON(w, infos)
	}
}

func handleRecent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", 7, 365)
		limit := parseIntParam(r, "limit", 20, 100)

		updates, err := recentUpdates(r.Context(), deps, days, limit)
		if err != nil {
			httpErrorFrom(w, err)
			return
		}
		writeJSON(w, updates)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// httpErrorFrom maps an error's kind to an HTTP status.
func httpErrorFrom(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errkind.InvalidArgument:
		status = http.StatusBadRequest
	case errkind.NotFound:
		status = http.StatusNotFound
	case errkind.EmbeddingRateLimited, errkind.IndexQuotaExceeded:
		status = http.StatusTooManyRequests
	case errkind.SourceUnavailable, errkind.IndexUnavailable:
		status = http.StatusBadGateway
	}
	httpError(w, status, kind, "%v", err)
}

func httpError(w http.ResponseWriter, code int, kind errkind.Kind, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":    string(kind),
			"message": fmt.Sprintf(format, args...),
		},
	})
}
