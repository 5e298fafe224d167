package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// RetentionResult reports a retention sweep's outcome. Removed holds the IDs
// actually deleted; a failed delete leaves its record expired but present.
type RetentionResult struct {
	Expired []types.MemoryRecord
	Removed []string
	Deleted int
}

// RetentionSweep finds the user's latest records whose age exceeds the
// per-type retention rule. Dry-run by default; with autoDelete, a "delete"
// ledger entry is written for every expired record before any physical
// removal (write-ahead, not crash-atomic).
func (e *Engine) RetentionSweep(ctx context.Context, userID string, autoDelete bool) (*RetentionResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("engine: user ID is required")
	}

	latest := true
	records, _, err := e.store.List(ctx, storage.Filters{UserID: userID, IsLatest: &latest},
		e.config.MaxMemoriesPerUser, 0)
	if err != nil {
		return nil, fmt.Errorf("engine: retention list: %w", err)
	}

	now := e.clock.Now()
	result := &RetentionResult{}
	for i := range records {
		rec := records[i]
		if e.retention.Expired(rec.MemoryType, rec.AgeDays(now)) {
			result.Expired = append(result.Expired, rec)
		}
	}

	if !autoDelete || len(result.Expired) == 0 {
		return result, nil
	}

	for i := range result.Expired {
		e.appendHistory(ctx, &types.HistoryEntry{
			MemoryID:      result.Expired[i].ID,
			Action:        types.HistoryDelete,
			PreviousValue: result.Expired[i].Content,
			UserID:        userID,
		})
	}
	for i := range result.Expired {
		if err := e.store.Delete(ctx, result.Expired[i].ID); err != nil {
			log.Printf("engine: retention delete %s failed: %v", result.Expired[i].ID, err)
			continue
		}
		result.Removed = append(result.Removed, result.Expired[i].ID)
		result.Deleted++
	}
	return result, nil
}
