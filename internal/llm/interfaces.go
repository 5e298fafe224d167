// Package llm provides the model collaborators the memory engine depends on:
// text completion for fact extraction and dedup arbitration, embedding
// generation for semantic search, and tolerant parsing of model output. All
// network calls carry explicit timeouts and circuit breaker protection.
package llm

import "context"

// TextGenerator is the interface for LLM text completion. Extraction,
// arbitration and query-rewrite prompts all use single-string completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator produces fixed-dimension embedding vectors.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
