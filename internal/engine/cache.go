package engine

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// embeddingCache remembers query embeddings for a short window so repeated
// searches skip the embedder. It is instance-scoped state: every Engine gets
// its own cache, which keeps tests fully isolated.
type embeddingCache struct {
	lru *expirable.LRU[string, cachedEmbedding]
}

type cachedEmbedding struct {
	effectiveQuery string
	vector         []float32
}

func newEmbeddingCache(size int, ttl time.Duration) *embeddingCache {
	return &embeddingCache{
		lru: expirable.NewLRU[string, cachedEmbedding](size, nil, ttl),
	}
}

// cacheKey keys on everything that can change the effective query: the user,
// the raw text and whether rewriting was on.
func cacheKey(userID, rawQuery string, rewrite bool) string {
	return fmt.Sprintf("%s|%t|%s", userID, rewrite, rawQuery)
}

func (c *embeddingCache) get(userID, rawQuery string, rewrite bool) (cachedEmbedding, bool) {
	return c.lru.Get(cacheKey(userID, rawQuery, rewrite))
}

func (c *embeddingCache) put(userID, rawQuery string, rewrite bool, entry cachedEmbedding) {
	c.lru.Add(cacheKey(userID, rawQuery, rewrite), entry)
}
