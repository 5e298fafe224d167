package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// UpsertEntity creates or refreshes an entity node keyed by (name, user).
func (s *Store) UpsertEntity(ctx context.Context, e *types.Entity) error {
	if e.Name == "" || e.UserID == "" {
		return fmt.Errorf("%w: entity requires name and user ID", storage.ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_entities (id, name, type, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(name, user_id) DO UPDATE SET type = EXCLUDED.type`,
		e.ID, e.Name, e.Type, e.UserID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert entity %q: %w", e.Name, err)
	}
	return nil
}

// UpsertMemoryNode idempotently creates a stub node for a memory record so
// that lineage edges never dangle.
func (s *Store) UpsertMemoryNode(ctx context.Context, n *types.MemoryNode) error {
	if n.ID == "" || n.UserID == "" {
		return fmt.Errorf("%w: memory node requires ID and user ID", storage.ErrInvalidInput)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_memory_nodes (id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(id) DO NOTHING`,
		n.ID, n.UserID, n.Content, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert memory node %s: %w", n.ID, err)
	}
	return nil
}

// AddRelation inserts a directed edge.
func (s *Store) AddRelation(ctx context.Context, r *types.GraphRelation) error {
	if r.Source == "" || r.Target == "" || r.Relationship == "" {
		return fmt.Errorf("%w: relation requires source, target and relationship", storage.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_relations (id, source, relationship, target, user_id, confidence, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Source, r.Relationship, r.Target, r.UserID, r.Confidence, r.Reason, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: add relation: %w", err)
	}
	return nil
}

// Relations returns a user's edges, newest first.
func (s *Store) Relations(ctx context.Context, userID string, limit int) ([]types.GraphRelation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, relationship, target, user_id, confidence, reason, created_at
		FROM graph_relations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var relations []types.GraphRelation
	for rows.Next() {
		var r types.GraphRelation
		if err := rows.Scan(&r.ID, &r.Source, &r.Relationship, &r.Target,
			&r.UserID, &r.Confidence, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan relation: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: relation rows: %w", err)
	}
	return relations, nil
}

// Entities returns a user's entity nodes, newest first.
func (s *Store) Entities(ctx context.Context, userID string, limit int) ([]types.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEntities(ctx, `
		SELECT id, name, type, user_id, created_at
		FROM graph_entities WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

// SearchEntities returns entity nodes whose name contains the query.
func (s *Store) SearchEntities(ctx context.Context, userID, query string, limit int) ([]types.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryEntities(ctx, `
		SELECT id, name, type, user_id, created_at
		FROM graph_entities
		WHERE user_id = $1 AND name ILIKE $2 ESCAPE '\'
		ORDER BY created_at DESC LIMIT $3`,
		userID, pattern, limit)
}

// DeleteUserGraph removes the user's entity and memory nodes and their edges.
func (s *Store) DeleteUserGraph(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin graph delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM graph_relations WHERE user_id = $1`,
		`DELETE FROM graph_entities WHERE user_id = $1`,
		`DELETE FROM graph_memory_nodes WHERE user_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("postgres: graph delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit graph delete: %w", err)
	}
	return nil
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: entity rows: %w", err)
	}
	return entities, nil
}

func escapeLike(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
