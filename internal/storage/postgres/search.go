package postgres

import (
	"context"
	"fmt"
	"log"
	"sync"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// fallbackScanWindow caps the degraded-mode exact scan, newest rows first.
const fallbackScanWindow = 50_000

// newFallbackWarner returns a func that logs the degraded-mode warning once
// per store instance.
func newFallbackWarner() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			log.Printf("postgres: pgvector unavailable, similarity search runs an exact scan over the newest %d rows", fallbackScanWindow)
		})
	}
}

// Search ranks records by cosine similarity to the query vector. With
// pgvector present the ivfflat cosine index answers the query; otherwise a
// bounded exact scan over the serialized embeddings takes over.
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
	if s.annAvailable {
		return s.searchANN(ctx, vector, limit, f)
	}
	s.warnFallback()
	return s.searchScan(ctx, vector, limit, f)
}

func (s *Store) searchANN(ctx context.Context, vector []float32, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	where, args := filterClause(f, 2)
	query := fmt.Sprintf(`%s, 1 - (embedding_vec <=> $1) AS similarity
		FROM memories %s AND embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $1
		LIMIT $%d`, selectColumns, where, len(args)+2)

	allArgs := append([]interface{}{pgvector.NewVector(vector)}, args...)
	rows, err := s.db.QueryContext(ctx, query, append(allArgs, limit)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: ann search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		rec, score, err := scanRecordWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: ann search row: %w", err)
		}
		results = append(results, storage.SearchResult{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ann search rows: %w", err)
	}
	return results, nil
}

func (s *Store) searchScan(ctx context.Context, vector []float32, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	where, args := filterClause(f, 1)
	query := fmt.Sprintf(`%s, embedding FROM memories %s
		ORDER BY created_at DESC LIMIT $%d`, selectColumns, where, len(args)+1)

	rows, err := s.db.QueryContext(ctx, query, append(args, fallbackScanWindow)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	top := storage.NewTopK(limit)
	for rows.Next() {
		rec, blob, err := scanRecordWithEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: vector scan row: %w", err)
		}
		candidate, err := storage.DeserializeVector(blob)
		if err != nil || len(candidate) != len(vector) {
			continue // stale or foreign-dimension row, not worth failing the query
		}
		top.Push(storage.SearchResult{Record: rec, Score: storage.CosineSimilarity(vector, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector scan rows: %w", err)
	}
	return top.Results(), nil
}

// KeywordSearch runs ranked full-text search over the generated tsvector
// column. plainto_tsquery neutralises query syntax, and ts_rank is
// normalized into a (0, 1) score.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := filterClause(f, 2)
	querySQL := fmt.Sprintf(`%s, ts_rank(content_tsv, q) AS rank
		FROM memories, plainto_tsquery('english', $1) q
		%s AND content_tsv @@ q
		ORDER BY rank DESC
		LIMIT $%d`, selectColumns, where, len(args)+2)

	allArgs := append([]interface{}{query}, args...)
	rows, err := s.db.QueryContext(ctx, querySQL, append(allArgs, limit)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		rec, rank, err := scanRecordWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: keyword search row: %w", err)
		}
		results = append(results, storage.SearchResult{Record: rec, Score: normalizeTSRank(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: keyword search rows: %w", err)
	}
	return results, nil
}

// normalizeTSRank maps ts_rank's unbounded positive score onto (0, 1).
func normalizeTSRank(rank float64) float64 {
	if rank < 0 {
		rank = 0
	}
	return rank / (1.0 + rank)
}

func scanRecordWithScore(rows rowScanner) (*types.MemoryRecord, float64, error) {
	var rec types.MemoryRecord
	var eventDate nullTime
	var metadataJSON []byte
	var score float64

	err := rows.Scan(&rec.ID, &rec.Content, &rec.UserID, &rec.Category, &rec.MemoryType,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.IsLatest, &rec.Version, &eventDate,
		&rec.ContentHash, &metadataJSON, &score)
	if err != nil {
		return nil, 0, err
	}
	if err := fillScanned(&rec, eventDate, metadataJSON); err != nil {
		return nil, 0, err
	}
	return &rec, score, nil
}

func scanRecordWithEmbedding(rows rowScanner) (*types.MemoryRecord, []byte, error) {
	var rec types.MemoryRecord
	var eventDate nullTime
	var metadataJSON []byte
	var blob []byte

	err := rows.Scan(&rec.ID, &rec.Content, &rec.UserID, &rec.Category, &rec.MemoryType,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.IsLatest, &rec.Version, &eventDate,
		&rec.ContentHash, &metadataJSON, &blob)
	if err != nil {
		return nil, nil, err
	}
	if err := fillScanned(&rec, eventDate, metadataJSON); err != nil {
		return nil, nil, err
	}
	return &rec, blob, nil
}
