package engine

import (
	"context"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
)

// Reranker reorders retrieval candidates for a query. Implementations may
// call out to a cross-encoder or another model; the default preserves the
// store's similarity order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []storage.SearchResult, topK int) ([]storage.SearchResult, error)
}

// PassthroughReranker keeps the incoming order and truncates to topK.
type PassthroughReranker struct{}

// Rerank implements Reranker.
func (PassthroughReranker) Rerank(_ context.Context, _ string, candidates []storage.SearchResult, topK int) ([]storage.SearchResult, error) {
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
