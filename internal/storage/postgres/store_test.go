package postgres

import (
	"testing"
	"time"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
)

func TestFilterClauseNumbering(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	latest := true
	f := storage.Filters{
		UserID:     "u1",
		IsLatest:   &latest,
		Category:   "work",
		MemoryType: "fact",
		FromDate:   &from,
	}

	where, args := filterClause(f, 2)
	want := "WHERE user_id = $2 AND is_latest = $3 AND category = $4 AND memory_type = $5 AND COALESCE(event_date, created_at) >= $6"
	if where != want {
		t.Errorf("clause:\n got %q\nwant %q", where, want)
	}
	if len(args) != 5 {
		t.Errorf("args: got %d, want 5", len(args))
	}
}

func TestFilterClauseUserOnly(t *testing.T) {
	where, args := filterClause(storage.Filters{UserID: "u1"}, 1)
	if where != "WHERE user_id = $1" {
		t.Errorf("clause: got %q", where)
	}
	if len(args) != 1 || args[0] != "u1" {
		t.Errorf("args: got %v", args)
	}
}

func TestNormalizeTSRank(t *testing.T) {
	cases := []struct {
		rank, want float64
	}{
		{0, 0},
		{-1, 0},
		{1, 0.5},
		{3, 0.75},
	}
	for _, c := range cases {
		if got := normalizeTSRank(c.rank); got != c.want {
			t.Errorf("normalizeTSRank(%f): got %f, want %f", c.rank, got, c.want)
		}
	}
	// Monotone and bounded below 1.
	if normalizeTSRank(100) >= 1 || normalizeTSRank(100) <= normalizeTSRank(10) {
		t.Error("normalizeTSRank not monotone in (0, 1)")
	}
}

func TestVectorColumnSplicing(t *testing.T) {
	with := &Store{annAvailable: true}
	without := &Store{annAvailable: false}

	if with.vecColumn() != ", embedding_vec" || without.vecColumn() != "" {
		t.Error("vecColumn splice wrong")
	}
	if with.vecParam(15) != ", $15" || without.vecParam(15) != "" {
		t.Error("vecParam splice wrong")
	}
	if without.vecUpdate() != "" || without.vecSet(13) != "" {
		t.Error("degraded mode must not reference embedding_vec")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_a\b`); got != `50\%\_a\\b` {
		t.Errorf("escapeLike: got %q", got)
	}
}
