package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// fallbackScanWindow caps the number of rows the degraded-mode vector scan
// loads, newest first. Typical personal-memory datasets stay far below this;
// beyond it, move to the postgres backend for indexed ANN search.
const fallbackScanWindow = 50_000

// newFallbackWarner returns a func that logs the degraded-mode warning once
// per store instance.
func newFallbackWarner(dsn string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			log.Printf("sqlite: no native vector index for %s, similarity search runs an exact scan over the newest %d rows", dsn, fallbackScanWindow)
		})
	}
}

// Search ranks records by cosine similarity to the query vector. Without a
// native ANN index it scans a bounded candidate window and keeps a
// size-limit insertion-sorted accumulator, so cost is O(window·limit)
// instead of O(window·log window).
func (s *Store) Search(ctx context.Context, vector []float32, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, &storage.DimensionError{Want: s.dimension, Got: len(vector)}
	}
	if limit <= 0 {
		limit = 10
	}
	s.warnFallback()

	where, args := filterClause(f)
	query := selectColumns + `, embedding FROM memories ` + where +
		` ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, fallbackScanWindow)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	top := storage.NewTopK(limit)
	for rows.Next() {
		rec, blob, err := scanRecordWithEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: vector scan row: %w", err)
		}
		candidate, err := storage.DeserializeVector(blob)
		if err != nil || len(candidate) != len(vector) {
			continue // stale or foreign-dimension row, not worth failing the query
		}
		top.Push(storage.SearchResult{Record: rec, Score: storage.CosineSimilarity(vector, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector scan rows: %w", err)
	}

	return top.Results(), nil
}

// KeywordSearch runs ranked FTS5 full-text search. The raw query is
// sanitised into a quoted-token expression so user input cannot inject FTS5
// syntax, and the negative FTS5 rank is normalized into a (0, 1) score.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	// Filter columns resolve to the memories table: the FTS virtual table
	// only exposes its content column.
	where, args := filterClause(f)
	querySQL := `
		SELECT m.id, m.content, m.user_id, m.category, m.memory_type,
			m.created_at, m.updated_at, m.is_latest, m.version, m.event_date,
			m.content_hash, m.metadata, fts.rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		` + where + ` AND memories_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, querySQL, append(args, ftsQuery, limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keyword search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		rec, rank, err := scanRecordWithRank(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: keyword search row: %w", err)
		}
		results = append(results, storage.SearchResult{Record: rec, Score: normalizeFTSRank(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: keyword search rows: %w", err)
	}
	return results, nil
}

// sanitizeFTSQuery converts free-form input into a safe FTS5 MATCH
// expression: each token is double-quoted (neutralising operators like AND,
// NEAR, *, -) and tokens are OR'd for recall.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	var tokens []string
	for _, w := range fields {
		w = strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, w)
		if w == "" {
			continue
		}
		tokens = append(tokens, `"`+w+`"`)
	}
	return strings.Join(tokens, " OR ")
}

// normalizeFTSRank maps FTS5's negative rank (more negative is better) onto
// (0, 1) with better matches scoring higher.
func normalizeFTSRank(rank float64) float64 {
	goodness := -rank
	if goodness < 0 {
		goodness = 0
	}
	return goodness / (1.0 + goodness)
}

// scanRecordWithEmbedding scans the shared column list plus the embedding blob.
func scanRecordWithEmbedding(row rowScanner) (*types.MemoryRecord, []byte, error) {
	var rec types.MemoryRecord
	var isLatest int
	var eventDate sql.NullTime
	var metadataJSON sql.NullString
	var blob []byte

	err := row.Scan(&rec.ID, &rec.Content, &rec.UserID, &rec.Category, &rec.MemoryType,
		&rec.CreatedAt, &rec.UpdatedAt, &isLatest, &rec.Version, &eventDate,
		&rec.ContentHash, &metadataJSON, &blob)
	if err != nil {
		return nil, nil, err
	}
	fillScannedRecord(&rec, isLatest, eventDate)
	if err := fillScannedMetadata(&rec, metadataJSON); err != nil {
		return nil, nil, err
	}
	return &rec, blob, nil
}

// scanRecordWithRank scans the shared column list plus the FTS5 rank.
func scanRecordWithRank(row rowScanner) (*types.MemoryRecord, float64, error) {
	var rec types.MemoryRecord
	var isLatest int
	var eventDate sql.NullTime
	var metadataJSON sql.NullString
	var rank float64

	err := row.Scan(&rec.ID, &rec.Content, &rec.UserID, &rec.Category, &rec.MemoryType,
		&rec.CreatedAt, &rec.UpdatedAt, &isLatest, &rec.Version, &eventDate,
		&rec.ContentHash, &metadataJSON, &rank)
	if err != nil {
		return nil, 0, err
	}
	fillScannedRecord(&rec, isLatest, eventDate)
	if err := fillScannedMetadata(&rec, metadataJSON); err != nil {
		return nil, 0, err
	}
	return &rec, rank, nil
}
