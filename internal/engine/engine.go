// Package engine orchestrates the memory lifecycle: extraction of candidate
// facts from conversations, deduplication and contradiction arbitration
// against stored memories, blended retrieval, retention sweeps, the
// append-only history ledger and best-effort lineage enrichment.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Extractor turns conversation messages into candidate facts.
type Extractor interface {
	Extract(ctx context.Context, messages []types.Message, instructions string) ([]types.ExtractedFact, error)
}

// Embedder produces embedding vectors for query and fact text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer answers arbitration, rewrite and graph-extraction prompts.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Clock abstracts time so retention and decay tests can pin "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine is the primary orchestrator. All collaborators are injected at
// construction; tests substitute in-memory fakes.
type Engine struct {
	config    Config
	store     storage.VectorStore
	history   storage.HistoryStore
	graph     storage.GraphStore
	extractor Extractor
	embedder  Embedder
	completer Completer
	reranker  Reranker
	cache     *embeddingCache
	retention types.RetentionRules
	clock     Clock
}

// Options bundles the collaborators and tunables for New. Store, History,
// Extractor, Embedder and Completer are required; the rest default.
type Options struct {
	Config    Config
	Store     storage.VectorStore
	History   storage.HistoryStore
	Graph     storage.GraphStore
	Extractor Extractor
	Embedder  Embedder
	Completer Completer
	Reranker  Reranker
	Retention types.RetentionRules
	Clock     Clock
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: vector store is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("engine: history store is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("engine: extractor is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("engine: embedder is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("engine: completer is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if opts.Reranker == nil {
		opts.Reranker = PassthroughReranker{}
	}
	if opts.Retention == nil {
		opts.Retention = types.DefaultRetentionRules()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}

	return &Engine{
		config:    opts.Config,
		store:     opts.Store,
		history:   opts.History,
		graph:     opts.Graph,
		extractor: opts.Extractor,
		embedder:  opts.Embedder,
		completer: opts.Completer,
		reranker:  opts.Reranker,
		cache:     newEmbeddingCache(opts.Config.CacheSize, opts.Config.CacheTTL),
		retention: opts.Retention,
		clock:     opts.Clock,
	}, nil
}

// AddOptions configures one Add call.
type AddOptions struct {
	UserID             string
	CustomInstructions string
	EnableGraph        bool
}

// AddResult reports what one Add call did.
type AddResult struct {
	Added        []types.MemoryRecord
	Updated      []types.MemoryRecord
	Deduplicated int
	Relations    []types.GraphRelation
}

// Add extracts facts from the conversation and runs each through dedup
// arbitration. Candidates are processed sequentially so that repeated
// restatements within one call collapse into a single memory instead of
// spawning parallel versions. Lineage enrichment for the new facts runs
// afterwards, fanned out.
func (e *Engine) Add(ctx context.Context, messages []types.Message, opts AddOptions) (*AddResult, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("engine: user ID is required")
	}

	// Admission control: checked once, up front, for the whole call.
	count, err := e.store.CountLatest(ctx, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("engine: admission check: %w", err)
	}
	if count >= e.config.MaxMemoriesPerUser {
		log.Printf("engine: user %s at memory cap (%d), rejecting add", opts.UserID, count)
		return nil, fmt.Errorf("engine: user %s has reached the memory cap of %d", opts.UserID, e.config.MaxMemoriesPerUser)
	}

	facts, err := e.extractor.Extract(ctx, messages, opts.CustomInstructions)
	if err != nil {
		return nil, fmt.Errorf("engine: extraction: %w", err)
	}
	result := &AddResult{}
	if len(facts) == 0 {
		return result, nil
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Memory
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("engine: embed candidates: %w", err)
	}

	for i, fact := range facts {
		if err := e.processCandidate(ctx, fact, vectors[i], opts.UserID, result); err != nil {
			return nil, err
		}
	}

	if opts.EnableGraph && e.graph != nil && len(result.Added) > 0 {
		result.Relations = e.enrichLineage(ctx, result.Added)
	}
	return result, nil
}

// processCandidate runs one fact through dedup and applies the decision.
func (e *Engine) processCandidate(ctx context.Context, fact types.ExtractedFact, vector []float32, userID string, result *AddResult) error {
	decision, err := e.decide(ctx, fact.Memory, vector, userID)
	if err != nil {
		return fmt.Errorf("engine: dedup decision: %w", err)
	}

	switch decision.Action {
	case types.DedupSkip:
		result.Deduplicated++
		return nil

	case types.DedupUpdate:
		updated, err := e.applyUpdate(ctx, fact, vector, userID, decision)
		if err != nil {
			return err
		}
		result.Updated = append(result.Updated, *updated)
		return nil

	case types.DedupExtend:
		rec, err := e.insertNew(ctx, fact, vector, userID)
		if err != nil {
			return err
		}
		e.linkLineage(ctx, rec, decision.TargetID, types.RelationExtends, decision.Reason)
		result.Added = append(result.Added, *rec)
		return nil

	default: // add
		rec, err := e.insertNew(ctx, fact, vector, userID)
		if err != nil {
			return err
		}
		result.Added = append(result.Added, *rec)
		return nil
	}
}

// insertNew stores a brand-new version-1 record and its "add" ledger entry.
func (e *Engine) insertNew(ctx context.Context, fact types.ExtractedFact, vector []float32, userID string) (*types.MemoryRecord, error) {
	rec := e.newRecord(fact, userID)
	if err := e.store.Insert(ctx, [][]float32{vector}, []*types.MemoryRecord{rec}); err != nil {
		return nil, fmt.Errorf("engine: insert: %w", err)
	}
	e.appendHistory(ctx, &types.HistoryEntry{
		MemoryID: rec.ID,
		Action:   types.HistoryAdd,
		NewValue: rec.Content,
		UserID:   userID,
	})
	return rec, nil
}

// applyUpdate inserts the superseding record, flips the old one's isLatest
// and records both the ledger entry and the UPDATES lineage edge.
func (e *Engine) applyUpdate(ctx context.Context, fact types.ExtractedFact, vector []float32, userID string, decision types.DedupDecision) (*types.MemoryRecord, error) {
	old, err := e.store.Get(ctx, decision.TargetID)
	if err != nil {
		return nil, fmt.Errorf("engine: load update target %s: %w", decision.TargetID, err)
	}

	rec := e.newRecord(fact, userID)
	rec.Version = old.Version + 1

	// Retire the old version before inserting the new one so the chain
	// never holds two latest records, even transiently.
	old.IsLatest = false
	old.UpdatedAt = e.clock.Now()
	if err := e.store.UpdatePayload(ctx, old.ID, old); err != nil {
		return nil, fmt.Errorf("engine: retire old version %s: %w", old.ID, err)
	}

	if err := e.store.Insert(ctx, [][]float32{vector}, []*types.MemoryRecord{rec}); err != nil {
		old.IsLatest = true
		if rerr := e.store.UpdatePayload(ctx, old.ID, old); rerr != nil {
			log.Printf("engine: restore latest flag on %s failed: %v", old.ID, rerr)
		}
		return nil, fmt.Errorf("engine: insert update: %w", err)
	}

	e.appendHistory(ctx, &types.HistoryEntry{
		MemoryID:      old.ID,
		Action:        types.HistoryUpdate,
		PreviousValue: old.Content,
		NewValue:      rec.Content,
		UserID:        userID,
	})
	e.appendHistory(ctx, &types.HistoryEntry{
		MemoryID: rec.ID,
		Action:   types.HistoryAdd,
		NewValue: rec.Content,
		UserID:   userID,
	})
	e.linkLineage(ctx, rec, old.ID, types.RelationUpdates, decision.Reason)
	return rec, nil
}

func (e *Engine) newRecord(fact types.ExtractedFact, userID string) *types.MemoryRecord {
	now := e.clock.Now()
	rec := &types.MemoryRecord{
		ID:          uuid.NewString(),
		Content:     fact.Memory,
		UserID:      userID,
		Category:    fact.Category,
		MemoryType:  fact.MemoryType,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsLatest:    true,
		Version:     1,
		ContentHash: types.HashContent(fact.Memory),
	}
	if !types.IsValidMemoryType(rec.MemoryType) {
		rec.MemoryType = types.MemoryTypeFact
	}
	if fact.EventDate != "" {
		if t, err := time.Parse("2006-01-02", fact.EventDate); err == nil {
			rec.EventDate = &t
		}
	}
	return rec
}

// appendHistory writes a ledger entry. A failed write after a successful
// mutation is logged and left as an eventual-consistency gap.
func (e *Engine) appendHistory(ctx context.Context, entry *types.HistoryEntry) {
	entry.CreatedAt = e.clock.Now()
	if err := e.history.Append(ctx, entry); err != nil {
		log.Printf("engine: history append for %s failed: %v", entry.MemoryID, err)
	}
}
