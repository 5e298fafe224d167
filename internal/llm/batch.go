package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	defaultBatchWorkers = 2
	maxBatchWorkers     = 8
	batchChunkSize      = 10
)

// BatchEmbedder embeds many texts with bounded worker concurrency. Workers
// claim fixed-size chunks from a shared counter and write results into a
// pre-sized output slice by chunk index, so output order always matches
// input order regardless of completion order.
type BatchEmbedder struct {
	embedder EmbeddingGenerator
	workers  int
}

// NewBatchEmbedder wraps an embedder for batch use. workers <= 0 selects the
// default of 2; values above the hard cap of 8 are clamped.
func NewBatchEmbedder(embedder EmbeddingGenerator, workers int) *BatchEmbedder {
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > maxBatchWorkers {
		workers = maxBatchWorkers
	}
	return &BatchEmbedder{embedder: embedder, workers: workers}
}

// Embed embeds a single text.
func (b *BatchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.embedder.Embed(ctx, text)
}

// GetModel returns the underlying embedder's model name.
func (b *BatchEmbedder) GetModel() string { return b.embedder.GetModel() }

// EmbedBatch embeds texts preserving input order. The first failure cancels
// outstanding work and fails the whole batch.
func (b *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	chunks := (len(texts) + batchChunkSize - 1) / batchChunkSize
	results := make([][][]float32, chunks)
	errs := make([]error, chunks)

	workers := b.workers
	if workers > chunks {
		workers = chunks
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var next int64 = -1
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(atomic.AddInt64(&next, 1))
				if idx >= chunks {
					return
				}
				if ctx.Err() != nil {
					errs[idx] = ctx.Err()
					return
				}
				start := idx * batchChunkSize
				end := start + batchChunkSize
				if end > len(texts) {
					end = len(texts)
				}
				vectors, err := b.embedChunk(ctx, texts[start:end])
				if err != nil {
					errs[idx] = err
					cancel()
					return
				}
				results[idx] = vectors
			}
		}()
	}
	wg.Wait()

	// Prefer the root-cause failure over cancellations it triggered.
	var firstErr error
	firstIdx := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil || (errors.Is(firstErr, context.Canceled) && !errors.Is(err, context.Canceled)) {
			firstErr, firstIdx = err, i
		}
	}
	if firstErr != nil {
		return nil, fmt.Errorf("embed batch chunk %d: %w", firstIdx, firstErr)
	}

	out := make([][]float32, 0, len(texts))
	for _, chunk := range results {
		out = append(out, chunk...)
	}
	return out, nil
}

func (b *BatchEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := b.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

var _ EmbeddingGenerator = (*BatchEmbedder)(nil)
