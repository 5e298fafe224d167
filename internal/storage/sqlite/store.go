// Package sqlite provides the embedded sqlite backend for the ClawMem store
// contracts: versioned records with an FTS5 keyword index, the history ledger
// and the lineage graph tables, all in a single database file.
//
// sqlite has no native vector index, so ANNAvailable() reports false and
// Search runs the bounded exact-scan fallback in search.go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Compile-time interface checks.
var (
	_ storage.VectorStore  = (*Store)(nil)
	_ storage.HistoryStore = (*Store)(nil)
	_ storage.GraphStore   = (*Store)(nil)
)

// Store implements the storage contracts on a single sqlite database.
type Store struct {
	db        *sql.DB
	dimension int

	warnFallback func() // one-time degraded-mode warning, see search.go
}

// Open opens (or creates) a sqlite store at the given DSN. Use ":memory:"
// for tests. dimension fixes the embedding dimension every insert is
// validated against.
func Open(dsn string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("sqlite: embedding dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// sqlite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	s := &Store{db: db, dimension: dimension}
	s.warnFallback = newFallbackWarner(dsn)
	return s, nil
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.dimension }

// ANNAvailable reports false: sqlite has no native vector index.
func (s *Store) ANNAvailable() bool { return false }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert upserts records with their embeddings, matched by position. The
// whole batch is dimension-validated before any row is written, so a
// mismatch anywhere rejects everything.
func (s *Store) Insert(ctx context.Context, vectors [][]float32, records []*types.MemoryRecord) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("%w: %d vectors for %d records", storage.ErrInvalidInput, len(vectors), len(records))
	}
	for _, vec := range vectors {
		if len(vec) != s.dimension {
			return &storage.DimensionError{Want: s.dimension, Got: len(vec)}
		}
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO memories (id, content, user_id, category, memory_type,
			created_at, updated_at, is_latest, version, event_date,
			content_hash, metadata, embedding, dimension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content      = excluded.content,
			category     = excluded.category,
			memory_type  = excluded.memory_type,
			updated_at   = excluded.updated_at,
			is_latest    = excluded.is_latest,
			version      = excluded.version,
			event_date   = excluded.event_date,
			content_hash = excluded.content_hash,
			metadata     = excluded.metadata,
			embedding    = excluded.embedding,
			dimension    = excluded.dimension
	`
	for i, rec := range records {
		metadataJSON, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, upsert,
			rec.ID, rec.Content, rec.UserID, rec.Category, rec.MemoryType,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), boolToInt(rec.IsLatest), rec.Version,
			nullableTime(rec.EventDate), rec.ContentHash, metadataJSON,
			storage.SerializeVector(vectors[i]), len(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit insert: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns a page of records matching the filters plus the total count.
func (s *Store) List(ctx context.Context, f storage.Filters, limit, offset int) ([]types.MemoryRecord, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := filterClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: list count: %w", err)
	}

	query := selectColumns + ` FROM memories ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Update replaces a record and its embedding. The vector is validated
// against the store dimension like Insert.
func (s *Store) Update(ctx context.Context, id string, vector []float32, record *types.MemoryRecord) error {
	if len(vector) != s.dimension {
		return &storage.DimensionError{Want: s.dimension, Got: len(vector)}
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			content = ?, category = ?, memory_type = ?, updated_at = ?,
			is_latest = ?, version = ?, event_date = ?, content_hash = ?,
			metadata = ?, embedding = ?, dimension = ?
		WHERE id = ?`,
		record.Content, record.Category, record.MemoryType, record.UpdatedAt.UTC(),
		boolToInt(record.IsLatest), record.Version, nullableTime(record.EventDate),
		record.ContentHash, metadataJSON, storage.SerializeVector(vector), len(vector), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", id, err)
	}
	return requireRow(res)
}

// UpdatePayload edits a record's fields without touching its embedding.
func (s *Store) UpdatePayload(ctx context.Context, id string, record *types.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			content = ?, category = ?, memory_type = ?, updated_at = ?,
			is_latest = ?, version = ?, event_date = ?, content_hash = ?, metadata = ?
		WHERE id = ?`,
		record.Content, record.Category, record.MemoryType, record.UpdatedAt.UTC(),
		boolToInt(record.IsLatest), record.Version, nullableTime(record.EventDate),
		record.ContentHash, metadataJSON, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update payload %s: %w", id, err)
	}
	return requireRow(res)
}

// FindByHash returns the user's records with the given content hash, newest
// first.
func (s *Store) FindByHash(ctx context.Context, hash, userID string, limit int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM memories WHERE content_hash = ? AND user_id = ? ORDER BY created_at DESC LIMIT ?`,
		hash, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find by hash: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// CountLatest returns the number of latest records the user holds.
func (s *Store) CountLatest(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND is_latest = 1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count latest: %w", err)
	}
	return n, nil
}

// Delete removes a single record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	return requireRow(res)
}

// DeleteAll removes every record matching the filters.
func (s *Store) DeleteAll(ctx context.Context, f storage.Filters) error {
	if err := f.Validate(); err != nil {
		return err
	}
	where, args := filterClause(f)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories `+where, args...); err != nil {
		return fmt.Errorf("sqlite: delete all: %w", err)
	}
	return nil
}

// selectColumns is the shared column list; scanRecord must match its order.
const selectColumns = `SELECT id, content, user_id, category, memory_type,
	created_at, updated_at, is_latest, version, event_date, content_hash, metadata`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var isLatest int
	var eventDate sql.NullTime
	var metadataJSON sql.NullString

	err := row.Scan(&rec.ID, &rec.Content, &rec.UserID, &rec.Category, &rec.MemoryType,
		&rec.CreatedAt, &rec.UpdatedAt, &isLatest, &rec.Version, &eventDate,
		&rec.ContentHash, &metadataJSON)
	if err != nil {
		return nil, err
	}

	fillScannedRecord(&rec, isLatest, eventDate)
	if err := fillScannedMetadata(&rec, metadataJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}

func fillScannedRecord(rec *types.MemoryRecord, isLatest int, eventDate sql.NullTime) {
	rec.IsLatest = isLatest != 0
	if eventDate.Valid {
		t := eventDate.Time
		rec.EventDate = &t
	}
}

func fillScannedMetadata(rec *types.MemoryRecord, metadataJSON sql.NullString) error {
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var records []types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// filterClause converts Filters into a WHERE clause with positional args.
// Date bounds apply to the reference date: event_date falling back to
// created_at, matching Filters.Matches.
func filterClause(f storage.Filters) (string, []interface{}) {
	clauses := []string{"user_id = ?"}
	args := []interface{}{f.UserID}

	if f.IsLatest != nil {
		clauses = append(clauses, "is_latest = ?")
		args = append(args, boolToInt(*f.IsLatest))
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.MemoryType != "" {
		clauses = append(clauses, "memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.FromDate != nil {
		clauses = append(clauses, "COALESCE(event_date, created_at) >= ?")
		args = append(args, f.FromDate.UTC())
	}
	if f.ToDate != nil {
		clauses = append(clauses, "COALESCE(event_date, created_at) <= ?")
		args = append(args, f.ToDate.UTC())
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal metadata: %v", storage.ErrInvalidInput, err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
