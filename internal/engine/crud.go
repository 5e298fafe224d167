package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Get returns one record, or nil when it does not exist.
func (e *Engine) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: get %s: %w", id, err)
	}
	return rec, nil
}

// GetAllOptions configures a GetAll call.
type GetAllOptions struct {
	UserID     string
	Category   string
	MemoryType string
	Limit      int
	Offset     int
	OnlyLatest bool
}

// GetAll returns a page of a user's records plus the total match count.
func (e *Engine) GetAll(ctx context.Context, opts GetAllOptions) ([]types.MemoryRecord, int, error) {
	if opts.UserID == "" {
		return nil, 0, fmt.Errorf("engine: user ID is required")
	}
	filters := storage.Filters{
		UserID:     opts.UserID,
		Category:   opts.Category,
		MemoryType: opts.MemoryType,
	}
	if opts.OnlyLatest {
		latest := true
		filters.IsLatest = &latest
	}
	records, total, err := e.store.List(ctx, filters, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: list: %w", err)
	}
	return records, total, nil
}

// Update edits a record's content in place: same id, version+1, recomputed
// hash and embedding, with an "update" ledger entry.
func (e *Engine) Update(ctx context.Context, id, text string) (*types.MemoryRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("engine: update text is required")
	}

	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load %s: %w", id, err)
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("engine: embed update: %w", err)
	}

	previous := rec.Content
	rec.Content = text
	rec.ContentHash = types.HashContent(text)
	rec.Version++
	rec.UpdatedAt = e.clock.Now()
	if err := e.store.Update(ctx, id, vector, rec); err != nil {
		return nil, fmt.Errorf("engine: update %s: %w", id, err)
	}

	e.appendHistory(ctx, &types.HistoryEntry{
		MemoryID:      id,
		Action:        types.HistoryUpdate,
		PreviousValue: previous,
		NewValue:      text,
		UserID:        rec.UserID,
	})
	return rec, nil
}

// Delete removes one record, writing its "delete" ledger entry first.
func (e *Engine) Delete(ctx context.Context, id string) error {
	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("engine: load %s: %w", id, err)
	}

	e.appendHistory(ctx, &types.HistoryEntry{
		MemoryID:      id,
		Action:        types.HistoryDelete,
		PreviousValue: rec.Content,
		UserID:        rec.UserID,
	})
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine: delete %s: %w", id, err)
	}
	return nil
}

// DeleteAll wipes a user's records, ledger-first, and their graph.
func (e *Engine) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("engine: user ID is required")
	}

	// Superseded versions do not count against the admission cap, so the
	// user can hold more rows than one page. The ledger pass pages until
	// the total is exhausted; every row gets its delete entry before the
	// physical wipe.
	pageSize := e.config.MaxMemoriesPerUser
	for offset := 0; ; {
		records, total, err := e.store.List(ctx, storage.Filters{UserID: userID}, pageSize, offset)
		if err != nil {
			return fmt.Errorf("engine: list for wipe: %w", err)
		}
		for i := range records {
			e.appendHistory(ctx, &types.HistoryEntry{
				MemoryID:      records[i].ID,
				Action:        types.HistoryDelete,
				PreviousValue: records[i].Content,
				UserID:        userID,
			})
		}
		offset += len(records)
		if len(records) == 0 || offset >= total {
			break
		}
	}

	if err := e.store.DeleteAll(ctx, storage.Filters{UserID: userID}); err != nil {
		return fmt.Errorf("engine: wipe records: %w", err)
	}
	if e.graph != nil {
		if err := e.graph.DeleteUserGraph(ctx, userID); err != nil {
			log.Printf("engine: graph wipe for %s failed: %v", userID, err)
		}
	}
	return nil
}

// History returns a memory's ledger entries in ascending order.
func (e *Engine) History(ctx context.Context, memoryID string) ([]types.HistoryEntry, error) {
	entries, err := e.history.ByMemoryID(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("engine: history %s: %w", memoryID, err)
	}
	return entries, nil
}
