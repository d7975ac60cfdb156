// Package search answers queries against the synced knowledge base. A query
// runs a vector similarity lookup and the wiki's native text search in
// parallel, fuses the two score lists, and returns the top passages with
// their source attribution. Lexical search is best-effort; losing it
// degrades a query to vector-only instead of failing it.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-labs/wikidex/internal/confluence"
	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/vectorindex"
)

// Result is one retrieved passage.
type Result struct {
	ChunkID      string  `json:"chunk_id"`
	PageID       string  `json:"page_id"`
	PageTitle    string  `json:"page_title"`
	PageURL      string  `json:"page_url"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	LastModified string  `json:"last_modified"`
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSearcher queries the similarity index.
type VectorSearcher interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorindex.Match, error)
}

// LexicalSearcher runs the wiki's native text search.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, spaceKey, query string, limit int) ([]confluence.LexicalHit, error)
}

// Config holds the retrieval tuning knobs.
type Config struct {
	TopK            int
	OverFetch       int
	VectorWeight    float64
	LexicalWeight   float64
	DiversifyByPage bool
	CacheTTL        time.Duration
}

// Engine is the retrieval front end.
type Engine struct {
	embedder QueryEmbedder
	index    VectorSearcher
	lexical  LexicalSearcher
	cfg      Config
	cache    *Cache
	log      *slog.Logger
}

// New creates an Engine.
func New(embedder QueryEmbedder, index VectorSearcher, lexical LexicalSearcher, cfg Config, log *slog.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		lexical:  lexical,
		cfg:      cfg,
		cache:    NewCache(cfg.CacheTTL),
		log:      log,
	}
}

// Search retrieves the topK best passages for a query within one space.
// topK <= 0 falls back to the configured default. An empty index yields an
// empty result list.
func (e *Engine) Search(ctx context.Context, spaceKey, query string, topK int) ([]Result, error) {
	q := normalizeQuery(query)
	if q == "" {
		return nil, errkind.New(errkind.InvalidArgument, "search", "query must not be empty")
	}
	if spaceKey == "" {
		return nil, errkind.New(errkind.InvalidArgument, "search", "space key must not be empty")
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	key := cacheKey(spaceKey, q, topK)
	if results, ok := e.cache.Get(key); ok {
		return results, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, errkind.Newf(errkind.EmbeddingInvalidInput, "search", "expected 1 query vector, got %d", len(vectors))
	}

	fetchK := topK * e.cfg.OverFetch

	var matches []vectorindex.Match
	var hits []confluence.LexicalHit

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.index.Query(gCtx, spaceKey, vectors[0], fetchK)
		if err != nil {
			return fmt.Errorf("querying index: %w", err)
		}
		matches = m
		return nil
	})
	g.Go(func() error {
		h, err := e.lexical.LexicalSearch(gCtx, spaceKey, q, fetchK)
		if err != nil {
			// Degrade to vector-only.
			e.log.Warn("lexical search failed, using vector scores only", "space", spaceKey, "error", err)
			return nil
		}
		hits = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := e.fuse(matches, hits)
	if e.cfg.DiversifyByPage {
		results = bestPerPage(results)
	}
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	e.cache.Put(key, results)
	return results, nil
}

// fuse combines vector matches and lexical page hits into scored results.
// Each score list is min-max normalized on its own, then blended by weight.
// Lexical hits only boost pages that already have an indexed chunk in the
// candidate set; they never introduce results of their own.
func (e *Engine) fuse(matches []vectorindex.Match, hits []confluence.LexicalHit) []Result {
	if len(matches) == 0 {
		return nil
	}

	vecScores := make([]float64, len(matches))
	for i, m := range matches {
		vecScores[i] = m.Score
	}
	vecNorm := minMaxNormalize(vecScores)

	lexScores := make([]float64, len(hits))
	for i, h := range hits {
		lexScores[i] = h.Score
	}
	lexNorm := minMaxNormalize(lexScores)
	lexByPage := make(map[string]float64, len(hits))
	for i, h := range hits {
		if cur, ok := lexByPage[h.PageID]; !ok || lexNorm[i] > cur {
			lexByPage[h.PageID] = lexNorm[i]
		}
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		fused := e.cfg.VectorWeight*vecNorm[i] + e.cfg.LexicalWeight*lexByPage[m.Metadata.PageID]
		results[i] = Result{
			ChunkID:      m.ID,
			PageID:       m.Metadata.PageID,
			PageTitle:    m.Metadata.Title,
			PageURL:      m.Metadata.URL,
			Text:         m.Metadata.Text,
			Score:        fused,
			LastModified: m.Metadata.LastModified,
		}
	}
	return results
}

// bestPerPage keeps the highest-scoring chunk of each page, ties broken by
// chunk id.
func bestPerPage(results []Result) []Result {
	best := make(map[string]Result, len(results))
	for _, r := range results {
		cur, ok := best[r.PageID]
		if !ok || r.Score > cur.Score || (r.Score == cur.Score && r.ChunkID < cur.ChunkID) {
			best[r.PageID] = r
		}
	}
	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// normalizeQuery trims, lowercases, and collapses inner whitespace so that
// trivially different spellings of the same query share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func cacheKey(spaceKey, query string, topK int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", spaceKey, query, topK)
}
