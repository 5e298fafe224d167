package engine

import (
	"context"
	"fmt"

	"github.com/DeepExtrema/clawmem-sub000/internal/llm"
	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// arbitrationCap bounds how many near-duplicates reach the arbitration
// prompt. Literal repeats never get that far; the hash fast path catches
// them for free.
const arbitrationCap = 5

// decide runs the dedup pipeline for one candidate fact: hash fast path,
// then the semantic gate, then LLM arbitration only for genuinely ambiguous
// cases.
func (e *Engine) decide(ctx context.Context, text string, vector []float32, userID string) (types.DedupDecision, error) {
	hash := types.HashContent(text)
	matches, err := e.store.FindByHash(ctx, hash, userID, e.config.MaxCandidates)
	if err != nil {
		return types.DedupDecision{}, fmt.Errorf("hash lookup: %w", err)
	}
	for _, m := range matches {
		if m.IsLatest {
			return types.DedupDecision{
				Action:   types.DedupSkip,
				TargetID: m.ID,
				Reason:   "exact duplicate",
			}, nil
		}
	}

	candidates, err := e.semanticGate(ctx, vector, userID)
	if err != nil {
		return types.DedupDecision{}, err
	}
	if len(candidates) == 0 {
		return types.DedupDecision{Action: types.DedupAdd, Reason: "no similar memories"}, nil
	}

	return e.arbitrate(ctx, text, candidates)
}

// semanticGate returns the stored memories similar enough to warrant
// arbitration, capped to the highest-scoring few.
func (e *Engine) semanticGate(ctx context.Context, vector []float32, userID string) ([]storage.SearchResult, error) {
	latest := true
	results, err := e.store.Search(ctx, vector, e.config.MaxCandidates, storage.Filters{
		UserID:   userID,
		IsLatest: &latest,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic gate: %w", err)
	}

	var kept []storage.SearchResult
	for _, r := range results {
		if r.Score >= e.config.SemanticThreshold {
			kept = append(kept, r)
		}
		if len(kept) == arbitrationCap {
			break
		}
	}
	return kept, nil
}

// arbitrate asks the model to choose among add/update/skip/extend. Any
// response the parser cannot validate, or a target ID pointing outside the
// offered candidates, degrades to add.
func (e *Engine) arbitrate(ctx context.Context, text string, candidates []storage.SearchResult) (types.DedupDecision, error) {
	prompted := make([]llm.ArbitrationCandidate, len(candidates))
	offered := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		prompted[i] = llm.ArbitrationCandidate{ID: c.Record.ID, Text: c.Record.Content}
		offered[c.Record.ID] = true
	}

	raw, err := e.completer.Complete(ctx, llm.ArbitrationPrompt(text, prompted))
	if err != nil {
		return types.DedupDecision{}, fmt.Errorf("arbitration: %w", err)
	}

	decision := llm.ParseDecision(raw)
	if decision.Action != types.DedupAdd && !offered[decision.TargetID] {
		return types.DedupDecision{
			Action: types.DedupAdd,
			Reason: "failed to parse decision",
		}, nil
	}
	return decision, nil
}
