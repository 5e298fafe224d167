package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

const testDim = 4

// fakeClock pins "now" for decay and retention assertions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore is an in-memory VectorStore + HistoryStore + GraphStore.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*types.MemoryRecord
	vectors map[string][]float32
	history []types.HistoryEntry
	nodes   map[string]types.MemoryNode
	ents    map[string]types.Entity
	edges   []types.GraphRelation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]*types.MemoryRecord{},
		vectors: map[string][]float32{},
		nodes:   map[string]types.MemoryNode{},
		ents:    map[string]types.Entity{},
	}
}

func (s *fakeStore) Insert(_ context.Context, vectors [][]float32, records []*types.MemoryRecord) error {
	for _, v := range vectors {
		if len(v) != testDim {
			return &storage.DimensionError{Want: testDim, Got: len(v)}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range records {
		cp := *rec
		s.records[rec.ID] = &cp
		s.vectors[rec.ID] = vectors[i]
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) Search(_ context.Context, vector []float32, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	if len(vector) != testDim {
		return nil, &storage.DimensionError{Want: testDim, Got: len(vector)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []storage.SearchResult
	for id, rec := range s.records {
		if !f.Matches(rec) {
			continue
		}
		cp := *rec
		results = append(results, storage.SearchResult{
			Record: &cp,
			Score:  storage.CosineSimilarity(vector, s.vectors[id]),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *fakeStore) KeywordSearch(_ context.Context, query string, limit int, f storage.Filters) ([]storage.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []storage.SearchResult
	for _, rec := range s.records {
		if !f.Matches(rec) {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), strings.ToLower(query)) {
			cp := *rec
			results = append(results, storage.SearchResult{Record: &cp, Score: 0.9})
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *fakeStore) List(_ context.Context, f storage.Filters, limit, offset int) ([]types.MemoryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []types.MemoryRecord
	for _, rec := range s.records {
		if f.Matches(rec) {
			all = append(all, *rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *fakeStore) Update(_ context.Context, id string, vector []float32, record *types.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return storage.ErrNotFound
	}
	cp := *record
	s.records[id] = &cp
	s.vectors[id] = vector
	return nil
}

func (s *fakeStore) UpdatePayload(_ context.Context, id string, record *types.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return storage.ErrNotFound
	}
	cp := *record
	s.records[id] = &cp
	return nil
}

func (s *fakeStore) FindByHash(_ context.Context, hash, userID string, limit int) ([]types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MemoryRecord
	for _, rec := range s.records {
		if rec.ContentHash == hash && rec.UserID == userID {
			out = append(out, *rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) CountLatest(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.UserID == userID && rec.IsLatest {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.records, id)
	delete(s.vectors, id)
	return nil
}

func (s *fakeStore) DeleteAll(_ context.Context, f storage.Filters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if f.Matches(rec) {
			delete(s.records, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

func (s *fakeStore) Dimension() int     { return testDim }
func (s *fakeStore) ANNAvailable() bool { return false }
func (s *fakeStore) Close() error       { return nil }

func (s *fakeStore) Append(_ context.Context, entry *types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *fakeStore) ByMemoryID(_ context.Context, memoryID string) ([]types.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.HistoryEntry
	for _, e := range s.history {
		if e.MemoryID == memoryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == "" {
		s.history = nil
		return nil
	}
	var kept []types.HistoryEntry
	for _, e := range s.history {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	s.history = kept
	return nil
}

func (s *fakeStore) UpsertEntity(_ context.Context, e *types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ents[e.Name+"|"+e.UserID] = *e
	return nil
}

func (s *fakeStore) UpsertMemoryNode(_ context.Context, n *types.MemoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; !ok {
		s.nodes[n.ID] = *n
	}
	return nil
}

func (s *fakeStore) AddRelation(_ context.Context, r *types.GraphRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, *r)
	return nil
}

func (s *fakeStore) Relations(_ context.Context, userID string, limit int) ([]types.GraphRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.GraphRelation
	for _, r := range s.edges {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) Entities(_ context.Context, userID string, limit int) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Entity
	for _, e := range s.ents {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) SearchEntities(_ context.Context, userID, query string, limit int) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Entity
	for _, e := range s.ents {
		if e.UserID == userID && strings.Contains(strings.ToLower(e.Name), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteUserGraph(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.ents {
		if e.UserID == userID {
			delete(s.ents, k)
		}
	}
	for k, n := range s.nodes {
		if n.UserID == userID {
			delete(s.nodes, k)
		}
	}
	var kept []types.GraphRelation
	for _, r := range s.edges {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	s.edges = kept
	return nil
}

// fakeExtractor returns preset facts, one batch per call.
type fakeExtractor struct {
	mu      sync.Mutex
	batches [][]types.ExtractedFact
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []types.Message, _ string) ([]types.ExtractedFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

// fakeEmbedder maps text to vectors via a lookup table, defaulting to a
// fixed vector so unrelated texts still embed.
type fakeEmbedder struct {
	table map[string][]float32
	calls int64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&f.calls, 1)
	if v, ok := f.table[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fakeCompleter answers prompts by keyword: arbitration prompts get the
// configured decision, everything else gets canned output.
type fakeCompleter struct {
	mu          sync.Mutex
	arbitration string
	rewrite     string
	graph       string
	arbCalls    int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(prompt, "Decide how a new memory"):
		f.arbCalls++
		return f.arbitration, nil
	case strings.Contains(prompt, "Expand a short memory-search query"):
		return f.rewrite, nil
	case strings.Contains(prompt, "Extract entities and relationships"):
		if f.graph == "" {
			return `{"entities":[],"relations":[]}`, nil
		}
		return f.graph, nil
	default:
		return "", nil
	}
}

type testHarness struct {
	engine    *Engine
	store     *fakeStore
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	completer *fakeCompleter
	clock     *fakeClock
}

func newTestEngine(t *testing.T, mutate func(*Options)) *testHarness {
	t.Helper()
	h := &testHarness{
		store:     newFakeStore(),
		extractor: &fakeExtractor{},
		embedder:  &fakeEmbedder{table: map[string][]float32{}},
		completer: &fakeCompleter{arbitration: `{"action":"add","target_id":"","reason":"new"}`},
		clock:     newFakeClock(),
	}
	opts := Options{
		Config:    DefaultConfig(),
		Store:     h.store,
		History:   h.store,
		Graph:     h.store,
		Extractor: h.extractor,
		Embedder:  h.embedder,
		Completer: h.completer,
		Clock:     h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)
	h.engine = eng
	return h
}

func fact(text string) types.ExtractedFact {
	return types.ExtractedFact{Memory: text, Category: "test", MemoryType: types.MemoryTypeFact}
}
