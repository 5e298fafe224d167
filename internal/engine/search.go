package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/DeepExtrema/clawmem-sub000/internal/llm"
	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Queries at or above these sizes are specific enough to skip rewriting.
const (
	rewriteMaxChars = 15
	rewriteMaxWords = 4
)

// SearchOptions configures one Search call. UserID is required; zero values
// elsewhere take the engine defaults.
type SearchOptions struct {
	UserID        string
	Limit         int
	Threshold     *float64
	Category      string
	MemoryType    string
	FromDate      *time.Time
	ToDate        *time.Time
	KeywordSearch bool
}

// Search runs the retrieval pipeline: optional query rewrite, cached
// embedding, over-fetched ANN search, rerank, threshold filter, type-based
// score adjustment, optional keyword blend, final sort and truncate.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]types.MemoryRecord, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("engine: user ID is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("engine: query is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.SearchLimit
	}
	threshold := e.config.SearchThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	vector, err := e.queryEmbedding(ctx, query, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("engine: embed query: %w", err)
	}

	latest := true
	filters := storage.Filters{
		UserID:     opts.UserID,
		IsLatest:   &latest,
		Category:   opts.Category,
		MemoryType: opts.MemoryType,
		FromDate:   opts.FromDate,
		ToDate:     opts.ToDate,
	}

	// Over-fetch so threshold filtering and type adjustment still leave
	// enough to fill the page.
	fetch := 2 * limit
	if fetch < 10 {
		fetch = 10
	}
	candidates, err := e.store.Search(ctx, vector, fetch, filters)
	if err != nil {
		return nil, fmt.Errorf("engine: vector search: %w", err)
	}

	candidates, err = e.reranker.Rerank(ctx, query, candidates, e.config.RerankTopK)
	if err != nil {
		return nil, fmt.Errorf("engine: rerank: %w", err)
	}

	now := e.clock.Now()
	scored := make(map[string]storage.SearchResult, len(candidates))
	for _, c := range candidates {
		if c.Score < threshold {
			continue
		}
		c.Score = e.adjustScore(c.Score, c.Record, now)
		scored[c.Record.ID] = c
	}

	if opts.KeywordSearch {
		e.blendKeywordResults(ctx, query, limit, filters, scored)
	}

	results := make([]storage.SearchResult, 0, len(scored))
	for _, r := range scored {
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]types.MemoryRecord, len(results))
	for i, r := range results {
		rec := *r.Record
		rec.Score = r.Score
		out[i] = rec
	}
	return out, nil
}

// queryEmbedding returns the embedding for the effective query, consulting
// the cache first. Rewriting only applies to short, vague queries and
// degrades silently.
func (e *Engine) queryEmbedding(ctx context.Context, rawQuery, userID string) ([]float32, error) {
	rewrite := e.config.EnableQueryRewrite
	if entry, ok := e.cache.get(userID, rawQuery, rewrite); ok {
		return entry.vector, nil
	}

	effective := rawQuery
	if rewrite && shouldRewrite(rawQuery) {
		effective = e.rewriteQuery(ctx, rawQuery)
	}

	vector, err := e.embedder.Embed(ctx, effective)
	if err != nil {
		return nil, err
	}
	e.cache.put(userID, rawQuery, rewrite, cachedEmbedding{effectiveQuery: effective, vector: vector})
	return vector, nil
}

// shouldRewrite reports whether a query is terse enough to benefit from
// expansion.
func shouldRewrite(query string) bool {
	return len(query) < rewriteMaxChars && len(strings.Fields(query)) < rewriteMaxWords
}

// rewriteQuery expands a vague query via the model. Every failure mode
// returns the original text.
func (e *Engine) rewriteQuery(ctx context.Context, query string) string {
	raw, err := e.completer.Complete(ctx, llm.QueryRewritePrompt(query))
	if err != nil {
		log.Printf("engine: query rewrite failed, using raw query: %v", err)
		return query
	}
	rewritten := llm.ParseRewrite(raw)
	if len(rewritten) < len(query) {
		return query
	}
	return rewritten
}

// adjustScore applies type-based score adjustment: preferences get a boost,
// episodes decay with age down to a floor, facts pass through. The result
// is capped at 1.0.
func (e *Engine) adjustScore(score float64, rec *types.MemoryRecord, now time.Time) float64 {
	switch rec.MemoryType {
	case types.MemoryTypePreference:
		score *= e.config.PreferenceBoost
	case types.MemoryTypeEpisode:
		decay := 1.0 - (rec.AgeDays(now)/100.0)*0.3
		if decay < e.config.EpisodeDecayFloor {
			decay = e.config.EpisodeDecayFloor
		}
		score *= decay
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// blendKeywordResults merges discounted keyword hits into the scored set,
// keeping the higher score per id. Keyword search failing never fails the
// vector search that carries the call.
func (e *Engine) blendKeywordResults(ctx context.Context, query string, limit int, filters storage.Filters, scored map[string]storage.SearchResult) {
	keyword, err := e.store.KeywordSearch(ctx, query, limit, filters)
	if err != nil {
		log.Printf("engine: keyword blend failed: %v", err)
		return
	}
	for _, k := range keyword {
		k.Score *= e.config.KeywordDiscount
		if existing, ok := scored[k.Record.ID]; !ok || k.Score > existing.Score {
			scored[k.Record.ID] = k
		}
	}
}
