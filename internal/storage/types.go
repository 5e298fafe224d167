package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// DimensionError is returned by Insert/Update when an embedding's length does
// not match the store's configured dimension. The whole batch is rejected;
// no row from a failing batch is persisted.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: store expects %d, got %d", e.Want, e.Got)
}

// IsDimensionError reports whether err is (or wraps) a DimensionError.
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}

// Filters scopes store reads and bulk deletes. UserID is mandatory for every
// query path so that one user's records are never visible to another.
type Filters struct {
	UserID string

	// IsLatest filters on the latest-version flag when non-nil.
	IsLatest *bool

	// Category filters on the record category when non-empty.
	Category string

	// MemoryType filters on the record's memory type when non-empty.
	MemoryType string

	// FromDate/ToDate bound the record's reference date (event date falling
	// back to created date) when non-nil.
	FromDate *time.Time
	ToDate   *time.Time
}

// Validate checks that mandatory filter fields are present.
func (f *Filters) Validate() error {
	if f.UserID == "" {
		return fmt.Errorf("%w: user ID filter is required", ErrInvalidInput)
	}
	return nil
}

// Matches reports whether a record satisfies the filters. Used by in-memory
// evaluation paths (the fallback vector scan); SQL backends push the same
// predicates into WHERE clauses.
func (f *Filters) Matches(m *types.MemoryRecord) bool {
	if m.UserID != f.UserID {
		return false
	}
	if f.IsLatest != nil && m.IsLatest != *f.IsLatest {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	ref := m.ReferenceDate()
	if f.FromDate != nil && ref.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && ref.After(*f.ToDate) {
		return false
	}
	return true
}

// Latest returns filters scoped to a user's latest records. Handy for the
// common retrieval case.
func Latest(userID string) Filters {
	isLatest := true
	return Filters{UserID: userID, IsLatest: &isLatest}
}

// SearchResult pairs a record with its similarity or relevance score.
// Scores are positive; higher is better. Vector scores are cosine
// similarities, keyword scores are rank-derived and normalized to (0, 1).
type SearchResult struct {
	Record *types.MemoryRecord
	Score  float64
}
