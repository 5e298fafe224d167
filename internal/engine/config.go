package engine

import (
	"fmt"
	"time"
)

// Config holds the engine's tuning knobs. Zero values are replaced with the
// defaults from DefaultConfig by Validate.
type Config struct {
	// SemanticThreshold is the minimum ANN similarity for a stored memory to
	// enter dedup arbitration.
	SemanticThreshold float64

	// MaxCandidates is how many existing records the hash fast path fetches.
	MaxCandidates int

	// SearchLimit is the default result count for Search.
	SearchLimit int

	// SearchThreshold is the default minimum score for Search results.
	SearchThreshold float64

	// RerankTopK is the candidate count the reranker truncates to.
	RerankTopK int

	// CacheTTL bounds the age of cached query embeddings.
	CacheTTL time.Duration

	// CacheSize bounds the number of cached query embeddings.
	CacheSize int

	// PreferenceBoost multiplies preference record scores.
	PreferenceBoost float64

	// EpisodeDecayFloor is the minimum multiplier age decay can reach.
	EpisodeDecayFloor float64

	// KeywordDiscount multiplies keyword-search scores before blending.
	KeywordDiscount float64

	// MaxMemoriesPerUser caps a user's latest-record count; an add call that
	// finds the user at or above the cap is rejected whole.
	MaxMemoriesPerUser int

	// EnableQueryRewrite turns on LLM expansion of short, vague queries.
	EnableQueryRewrite bool

	// EmbedWorkers is the batch-embedding concurrency (hard cap applied by
	// the embedder itself).
	EmbedWorkers int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		SemanticThreshold:  0.85,
		MaxCandidates:      20,
		SearchLimit:        10,
		SearchThreshold:    0.5,
		RerankTopK:         20,
		CacheTTL:           60 * time.Second,
		CacheSize:          200,
		PreferenceBoost:    1.1,
		EpisodeDecayFloor:  0.7,
		KeywordDiscount:    0.7,
		MaxMemoriesPerUser: 10_000,
		EmbedWorkers:       2,
	}
}

// Validate fills zero fields with defaults and rejects nonsense values.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = d.SemanticThreshold
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = d.SearchLimit
	}
	if c.SearchThreshold == 0 {
		c.SearchThreshold = d.SearchThreshold
	}
	if c.RerankTopK == 0 {
		c.RerankTopK = d.RerankTopK
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.PreferenceBoost == 0 {
		c.PreferenceBoost = d.PreferenceBoost
	}
	if c.EpisodeDecayFloor == 0 {
		c.EpisodeDecayFloor = d.EpisodeDecayFloor
	}
	if c.KeywordDiscount == 0 {
		c.KeywordDiscount = d.KeywordDiscount
	}
	if c.MaxMemoriesPerUser == 0 {
		c.MaxMemoriesPerUser = d.MaxMemoriesPerUser
	}
	if c.EmbedWorkers == 0 {
		c.EmbedWorkers = d.EmbedWorkers
	}

	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("semantic threshold must be in [0, 1], got %f", c.SemanticThreshold)
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("search threshold must be in [0, 1], got %f", c.SearchThreshold)
	}
	if c.MaxCandidates < 0 || c.SearchLimit < 0 || c.CacheSize < 0 || c.MaxMemoriesPerUser < 0 {
		return fmt.Errorf("negative limits are not allowed")
	}
	return nil
}
