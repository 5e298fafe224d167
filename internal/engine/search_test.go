package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

func floatPtr(f float64) *float64 { return &f }

// seedMemory inserts a record directly into the fake store.
func seedMemory(t *testing.T, h *testHarness, id, userID, content, memoryType string, vector []float32) {
	t.Helper()
	now := h.clock.Now()
	rec := &types.MemoryRecord{
		ID: id, Content: content, UserID: userID, Category: "test",
		MemoryType: memoryType, CreatedAt: now, UpdatedAt: now,
		IsLatest: true, Version: 1, ContentHash: types.HashContent(content),
	}
	require.NoError(t, h.store.Insert(context.Background(), [][]float32{vector}, []*types.MemoryRecord{rec}))
}

func TestSearchRanksAndScores(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-close", "u1", "close match", types.MemoryTypeFact, []float32{1, 0.2, 0, 0})
	seedMemory(t, h, "m-exact", "u1", "exact match", types.MemoryTypeFact, []float32{1, 0, 0, 0})
	seedMemory(t, h, "m-far", "u1", "far away", types.MemoryTypeFact, []float32{0, 0, 1, 0})

	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 2, "below-threshold result dropped")
	assert.Equal(t, "m-exact", results[0].ID)
	assert.Equal(t, "m-close", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchThresholdBoundaries(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-1", "u1", "close", types.MemoryTypeFact, []float32{1, 0.5, 0, 0})
	seedMemory(t, h, "m-2", "u1", "closer", types.MemoryTypeFact, []float32{1, 0.1, 0, 0})

	// threshold 1.0 excludes every non-identical vector
	none, err := h.engine.Search(context.Background(), "query",
		SearchOptions{UserID: "u1", Threshold: floatPtr(1.0)})
	require.NoError(t, err)
	assert.Empty(t, none)

	// threshold 0 returns everything, sorted descending
	all, err := h.engine.Search(context.Background(), "query",
		SearchOptions{UserID: "u1", Threshold: floatPtr(0)})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].Score, all[1].Score)
}

func TestSearchUserIsolation(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-a", "userA", "a's memory", types.MemoryTypeFact, []float32{1, 0, 0, 0})
	seedMemory(t, h, "m-b", "userB", "b's memory", types.MemoryTypeFact, []float32{1, 0, 0, 0})

	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "userA"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "userA", results[0].UserID)
}

func TestSearchExcludesSupersededVersions(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-old", "u1", "old version", types.MemoryTypeFact, []float32{1, 0, 0, 0})
	seedMemory(t, h, "m-new", "u1", "new version", types.MemoryTypeFact, []float32{1, 0, 0, 0})

	old, err := h.store.Get(context.Background(), "m-old")
	require.NoError(t, err)
	old.IsLatest = false
	require.NoError(t, h.store.UpdatePayload(context.Background(), "m-old", old))

	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-new", results[0].ID)
}

func TestSearchTypeAdjustment(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	vec := []float32{1, 0.5, 0, 0} // similarity ≈ 0.894, leaves boost headroom under the cap
	seedMemory(t, h, "m-fact", "u1", "plain fact", types.MemoryTypeFact, vec)
	seedMemory(t, h, "m-pref", "u1", "a preference", types.MemoryTypePreference, vec)

	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m-pref", results[0].ID, "preference boost wins the tie")
	assert.InDelta(t, results[1].Score*1.1, results[0].Score, 1e-9)
}

func TestSearchScoreCappedAtOne(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-pref", "u1", "identical preference", types.MemoryTypePreference, []float32{1, 0, 0, 0})

	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearchEpisodeDecay(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-episode", "u1", "went hiking", types.MemoryTypeEpisode, []float32{1, 0, 0, 0})

	// 50 days old: multiplier = 1 - (50/100)*0.3 = 0.85
	h.clock.advance(50 * 24 * time.Hour)
	results, err := h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.85, results[0].Score, 1e-6)

	// Far past the decay horizon: floored at 0.7.
	h.clock.advance(500 * 24 * time.Hour)
	results, err = h.engine.Search(context.Background(), "query", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.7, results[0].Score, 1e-6)
}

func TestSearchKeywordBlend(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["coffee"] = []float32{1, 0, 0, 0}
	// Vector miss but keyword hit.
	seedMemory(t, h, "m-kw", "u1", "drinks coffee daily", types.MemoryTypeFact, []float32{0, 0, 1, 0})

	without, err := h.engine.Search(context.Background(), "coffee", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, without)

	with, err := h.engine.Search(context.Background(), "coffee",
		SearchOptions{UserID: "u1", KeywordSearch: true})
	require.NoError(t, err)
	require.Len(t, with, 1)
	assert.Equal(t, "m-kw", with[0].ID)
	// Fake keyword score 0.9 discounted by 0.7.
	assert.InDelta(t, 0.63, with[0].Score, 1e-6)
}

func TestSearchEmbeddingCacheHit(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["repeated query text"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-1", "u1", "something", types.MemoryTypeFact, []float32{1, 0, 0, 0})

	_, err := h.engine.Search(context.Background(), "repeated query text", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	_, err = h.engine.Search(context.Background(), "repeated query text", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.embedder.calls, "second search must hit the embedding cache")
}

func TestSearchHonorsLimit(t *testing.T) {
	h := newTestEngine(t, nil)
	h.embedder.table["query"] = []float32{1, 0, 0, 0}
	for _, id := range []string{"m-1", "m-2", "m-3", "m-4"} {
		seedMemory(t, h, id, "u1", "memory "+id, types.MemoryTypeFact, []float32{1, 0, 0, 0})
	}

	results, err := h.engine.Search(context.Background(), "query",
		SearchOptions{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchRewriteGate(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"coffee", true},                  // short and few words
		{"what does alex do", false},      // 4 words
		{"coffee preferences?", false},    // 19 chars
		{"go", true},
		{"a much longer and very specific query", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, shouldRewrite(c.query), "query %q", c.query)
	}
}

func TestSearchRewriteFailureFallsBack(t *testing.T) {
	h := newTestEngine(t, func(o *Options) {
		cfg := DefaultConfig()
		cfg.EnableQueryRewrite = true
		o.Config = cfg
	})
	h.completer.rewrite = "not json"
	h.embedder.table["tea"] = []float32{1, 0, 0, 0}
	seedMemory(t, h, "m-1", "u1", "likes tea", types.MemoryTypeFact, []float32{1, 0, 0, 0})

	results, err := h.engine.Search(context.Background(), "tea", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1, "rewrite failure must fall back to the raw query")
}

func TestSearchRewriteExpandsShortQuery(t *testing.T) {
	h := newTestEngine(t, func(o *Options) {
		cfg := DefaultConfig()
		cfg.EnableQueryRewrite = true
		o.Config = cfg
	})
	h.completer.rewrite = `{"query":"tea and hot drink preferences"}`
	h.embedder.table["tea and hot drink preferences"] = []float32{0, 1, 0, 0}
	seedMemory(t, h, "m-1", "u1", "prefers green tea", types.MemoryTypeFact, []float32{0, 1, 0, 0})

	results, err := h.engine.Search(context.Background(), "tea", SearchOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1, "rewritten query should be the one embedded")
}

func TestGetAllFilters(t *testing.T) {
	h := newTestEngine(t, nil)
	seedMemory(t, h, "m-f", "u1", "a fact", types.MemoryTypeFact, []float32{1, 0, 0, 0})
	seedMemory(t, h, "m-p", "u1", "a preference", types.MemoryTypePreference, []float32{0, 1, 0, 0})

	prefs, total, err := h.engine.GetAll(context.Background(), GetAllOptions{
		UserID: "u1", MemoryType: types.MemoryTypePreference,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, prefs, 1)
	assert.Equal(t, "m-p", prefs[0].ID)
}
