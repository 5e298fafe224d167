package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Append writes one history ledger entry. Entries are append-only.
func (s *Store) Append(ctx context.Context, entry *types.HistoryEntry) error {
	if entry.MemoryID == "" || entry.Action == "" {
		return fmt.Errorf("%w: history entry requires memory ID and action", storage.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, memory_id, action, previous_value, new_value, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.MemoryID, entry.Action, entry.PreviousValue,
		entry.NewValue, entry.UserID, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	return nil
}

// ByMemoryID returns a memory's ledger entries in ascending created-at order.
func (s *Store) ByMemoryID(ctx context.Context, memoryID string) ([]types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, action, previous_value, new_value, user_id, created_at
		FROM history WHERE memory_id = $1 ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: history by memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.Action, &e.PreviousValue,
			&e.NewValue, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return entries, nil
}

// Reset clears one user's ledger entries, or all entries when userID is empty.
func (s *Store) Reset(ctx context.Context, userID string) error {
	var err error
	if userID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM history`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM history WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("postgres: reset history: %w", err)
	}
	return nil
}
