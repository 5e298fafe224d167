// Package storage defines the persistence contracts for the ClawMem engine.
//
// The store is split into three small interfaces — vector store, history
// ledger and lineage graph — so that backends can be implemented and swapped
// independently. Both bundled backends (sqlite, postgres) implement all three.
package storage

import (
	"context"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// VectorStore is the versioned multi-index record store. Records are indexed
// three ways: by embedding (ANN or bounded fallback scan), by keyword
// (ranked full-text) and by plain columnar filters.
type VectorStore interface {
	// Insert upserts a batch of records with their embeddings, matched by
	// position. Every embedding is validated against Dimension() before any
	// row is written; a mismatch rejects the entire batch with a
	// *DimensionError.
	Insert(ctx context.Context, vectors [][]float32, records []*types.MemoryRecord) error

	// Search returns up to limit records ranked by similarity to the query
	// vector, restricted by filters. When ANNAvailable() is false the backend
	// falls back to an exact scan over a bounded candidate window.
	Search(ctx context.Context, vector []float32, limit int, f Filters) ([]SearchResult, error)

	// KeywordSearch returns up to limit records ranked by full-text relevance.
	// Query tokens are sanitised before reaching the index so that user input
	// cannot inject query syntax. Scores are normalized to (0, 1).
	KeywordSearch(ctx context.Context, query string, limit int, f Filters) ([]SearchResult, error)

	// Get retrieves a record by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// List returns a page of records matching the filters plus the total
	// count across all pages, ordered by creation time descending.
	List(ctx context.Context, f Filters, limit, offset int) ([]types.MemoryRecord, int, error)

	// Update replaces a record and its embedding. The vector is dimension-
	// validated like Insert. Returns ErrNotFound when the record is absent.
	Update(ctx context.Context, id string, vector []float32, record *types.MemoryRecord) error

	// UpdatePayload edits a record's fields without touching its embedding.
	// Used to flip IsLatest on supersession without re-embedding content.
	UpdatePayload(ctx context.Context, id string, record *types.MemoryRecord) error

	// FindByHash returns the user's records carrying the given normalized
	// content hash, newest first, capped to limit.
	FindByHash(ctx context.Context, hash, userID string, limit int) ([]types.MemoryRecord, error)

	// CountLatest returns the number of latest records the user holds.
	// Used for admission control on Add.
	CountLatest(ctx context.Context, userID string) (int, error)

	// Delete removes a single record. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every record matching the filters.
	DeleteAll(ctx context.Context, f Filters) error

	// Dimension returns the embedding dimension the store was configured with.
	Dimension() int

	// ANNAvailable reports whether a native approximate-nearest-neighbor
	// index backs Search. When false, Search runs in degraded exact-scan mode.
	ANNAvailable() bool

	// Close releases any resources held by the store.
	Close() error
}

// HistoryStore is the append-only audit ledger. Entries are never mutated;
// the only bulk operation is Reset.
type HistoryStore interface {
	// Append writes one ledger entry.
	Append(ctx context.Context, entry *types.HistoryEntry) error

	// ByMemoryID returns the entries for a memory ID in ascending
	// created-at order.
	ByMemoryID(ctx context.Context, memoryID string) ([]types.HistoryEntry, error)

	// Reset clears one user's entries, or all entries when userID is empty.
	Reset(ctx context.Context, userID string) error
}

// GraphStore is the best-effort lineage graph: extracted entities, their
// relationships, and UPDATES/EXTENDS supersession edges between record
// versions. It is an enrichment layer, not a source of truth for retrieval.
type GraphStore interface {
	// UpsertEntity creates or refreshes an entity node keyed by (name, user).
	UpsertEntity(ctx context.Context, e *types.Entity) error

	// UpsertMemoryNode idempotently creates a stub node for a memory record.
	UpsertMemoryNode(ctx context.Context, n *types.MemoryNode) error

	// AddRelation inserts a directed edge.
	AddRelation(ctx context.Context, r *types.GraphRelation) error

	// Relations returns a user's edges, newest first, capped to limit.
	Relations(ctx context.Context, userID string, limit int) ([]types.GraphRelation, error)

	// Entities returns a user's entity nodes, newest first, capped to limit.
	Entities(ctx context.Context, userID string, limit int) ([]types.Entity, error)

	// SearchEntities returns entity nodes whose name contains the query,
	// scoped to the user.
	SearchEntities(ctx context.Context, userID, query string, limit int) ([]types.Entity, error)

	// DeleteUserGraph removes the user's entity and memory nodes and their
	// edges. Named distinctly from VectorStore.DeleteAll so one backend can
	// implement both contracts.
	DeleteUserGraph(ctx context.Context, userID string) error
}
