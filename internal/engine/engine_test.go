package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

func userMessage(content string) []types.Message {
	return []types.Message{{Role: "user", Content: content}}
}

func TestAddInsertsNewFacts(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{{fact("Works at a bakery")}}

	result, err := h.engine.Add(context.Background(), userMessage("I work at a bakery"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Zero(t, result.Deduplicated)

	rec := result.Added[0]
	assert.True(t, rec.IsLatest)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, types.HashContent("Works at a bakery"), rec.ContentHash)

	entries, err := h.engine.History(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.HistoryAdd, entries[0].Action)
}

func TestAddIdenticalTextDeduplicatesViaHash(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Drinks oat milk")},
		{fact("  DRINKS OAT MILK  ")}, // trim+casefold hashes identically
	}

	first, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, first.Added, 1)

	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.GreaterOrEqual(t, second.Deduplicated, 1)
	assert.Zero(t, h.completer.arbCalls, "hash fast path must not reach arbitration")
}

func TestAddUpdateFlipsVersioning(t *testing.T) {
	h := newTestEngine(t, nil)
	// Same vector for both texts so the semantic gate triggers arbitration.
	vec := []float32{1, 0, 0, 0}
	h.embedder.table["Lives in Berlin"] = vec
	h.embedder.table["Lives in Munich"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Lives in Berlin")},
		{fact("Lives in Munich")},
	}

	first, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	oldID := first.Added[0].ID

	h.completer.arbitration = `{"action":"update","target_id":"` + oldID + `","reason":"moved cities"}`
	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Updated, 1)

	newRec := second.Updated[0]
	assert.True(t, newRec.IsLatest)
	assert.Equal(t, 2, newRec.Version)

	old, err := h.engine.Get(context.Background(), oldID)
	require.NoError(t, err)
	assert.False(t, old.IsLatest, "superseded record must lose latest flag")

	// Exactly one latest record in the chain.
	latestCount, err := h.store.CountLatest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, latestCount)

	// UPDATES lineage edge new -> old with the arbitration reason.
	edges, err := h.engine.GraphRelations(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, types.RelationUpdates, edges[0].Relationship)
	assert.Equal(t, newRec.ID, edges[0].Source)
	assert.Equal(t, oldID, edges[0].Target)
	assert.Equal(t, "moved cities", edges[0].Reason)

	// The superseded id carries an update ledger entry.
	entries, err := h.engine.History(context.Background(), oldID)
	require.NoError(t, err)
	var sawUpdate bool
	for _, e := range entries {
		if e.Action == types.HistoryUpdate {
			sawUpdate = true
			assert.Equal(t, "Lives in Berlin", e.PreviousValue)
			assert.Equal(t, "Lives in Munich", e.NewValue)
		}
	}
	assert.True(t, sawUpdate)
}

func TestAddExtendKeepsBothLatest(t *testing.T) {
	h := newTestEngine(t, nil)
	vec := []float32{0, 1, 0, 0}
	h.embedder.table["Plays guitar"] = vec
	h.embedder.table["Plays guitar in a band"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Plays guitar")},
		{fact("Plays guitar in a band")},
	}

	first, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	oldID := first.Added[0].ID

	h.completer.arbitration = `{"action":"extend","target_id":"` + oldID + `","reason":"adds detail"}`
	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Added, 1)

	latestCount, err := h.store.CountLatest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, latestCount, "extend keeps both records latest")

	edges, err := h.engine.GraphRelations(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, types.RelationExtends, edges[0].Relationship)
}

func TestAddUnparseableArbitrationFallsBackToAdd(t *testing.T) {
	h := newTestEngine(t, nil)
	vec := []float32{1, 1, 0, 0}
	h.embedder.table["Owns a cat"] = vec
	h.embedder.table["Owns a black cat"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Owns a cat")},
		{fact("Owns a black cat")},
	}
	_, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)

	h.completer.arbitration = "hmm, tricky one, probably a duplicate?"
	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Added, 1, "unparseable decision degrades to add, never an error")
}

func TestAddArbitrationTargetOutsideCandidatesDegrades(t *testing.T) {
	h := newTestEngine(t, nil)
	vec := []float32{0, 0, 1, 0}
	h.embedder.table["Runs marathons"] = vec
	h.embedder.table["Runs ultramarathons"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Runs marathons")},
		{fact("Runs ultramarathons")},
	}
	_, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)

	h.completer.arbitration = `{"action":"update","target_id":"not-a-real-id","reason":"?"}`
	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, second.Added, 1)
	assert.Empty(t, second.Updated)
}

func TestAddAdmissionCapRejectsWholeCall(t *testing.T) {
	h := newTestEngine(t, func(o *Options) {
		cfg := DefaultConfig()
		cfg.MaxMemoriesPerUser = 1
		o.Config = cfg
	})
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("First memory")},
		{fact("Second memory")},
	}

	_, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)

	_, err = h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory cap")
	assert.Equal(t, 1, h.extractor.calls, "rejected call must not reach extraction")
}

func TestAddGraphEnrichment(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{{fact("Alex works at Acme")}}
	h.completer.graph = `{"entities":[{"name":"Alex","type":"person"},{"name":"Acme","type":"organization"}],
		"relations":[{"from":"Alex","relationship":"works_at","to":"Acme","confidence":0.9}]}`

	result, err := h.engine.Add(context.Background(), userMessage("x"),
		AddOptions{UserID: "u1", EnableGraph: true})
	require.NoError(t, err)
	require.Len(t, result.Relations, 1)
	assert.Equal(t, "works_at", result.Relations[0].Relationship)

	ents, err := h.engine.GraphEntities(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, ents, 2)
}

func TestAlexTypeScriptScenario(t *testing.T) {
	h := newTestEngine(t, nil)
	vec := []float32{0.5, 0.5, 0, 0}
	h.embedder.table["Name is Alex"] = vec
	h.embedder.table["Is a TypeScript developer"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Name is Alex"), fact("Uses TypeScript")},
		{fact("Name is Alex"), fact("Is a TypeScript developer")},
	}

	first, err := h.engine.Add(context.Background(),
		userMessage("My name is Alex, I use TypeScript."), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(first.Added), 1)

	before, err := h.store.CountLatest(context.Background(), "u1")
	require.NoError(t, err)

	h.completer.arbitration = `{"action":"skip","target_id":"` + first.Added[0].ID + `","reason":"restates known info"}`
	second, err := h.engine.Add(context.Background(),
		userMessage("My name is Alex and I am a TypeScript developer."), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated > 0 || len(second.Updated) > 0)

	after, err := h.store.CountLatest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "skip outcome leaves the latest set unchanged")
}

func TestUpdateInPlace(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{{fact("Favourite colour is red")}}
	result, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	id := result.Added[0].ID

	updated, err := h.engine.Update(context.Background(), id, "Favourite colour is blue")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, id, updated.ID, "direct edit keeps the same id")
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, types.HashContent("Favourite colour is blue"), updated.ContentHash)

	missing, err := h.engine.Update(context.Background(), "no-such-id", "text")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteWritesLedgerEntry(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{{fact("Temporary note")}}
	result, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	id := result.Added[0].ID

	require.NoError(t, h.engine.Delete(context.Background(), id))

	gone, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, gone)

	entries, err := h.engine.History(context.Background(), id)
	require.NoError(t, err)
	var sawDelete bool
	for _, e := range entries {
		if e.Action == types.HistoryDelete {
			sawDelete = true
			assert.Equal(t, "Temporary note", e.PreviousValue)
		}
	}
	assert.True(t, sawDelete, "delete must be ledgered")
}

func TestDeleteAllScopedToUser(t *testing.T) {
	h := newTestEngine(t, nil)
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("u1 memory")},
		{fact("u2 memory")},
	}
	_, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	_, err = h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u2"})
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteAll(context.Background(), "u1"))

	n1, err := h.store.CountLatest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n1)
	n2, err := h.store.CountLatest(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n2, "other users untouched")
}

func TestDeleteAllLedgersEveryVersionPastOnePage(t *testing.T) {
	h := newTestEngine(t, func(o *Options) {
		o.Config.MaxMemoriesPerUser = 2
	})
	// Three rows for a cap of two: superseded versions do not count against
	// the cap, so the total can exceed one page of the wipe's ledger pass.
	seedMemory(t, h, "m-1", "u1", "first", types.MemoryTypeFact, []float32{1, 0, 0, 0})
	h.clock.advance(time.Minute)
	seedMemory(t, h, "m-2", "u1", "second", types.MemoryTypeFact, []float32{0, 1, 0, 0})
	h.clock.advance(time.Minute)
	seedMemory(t, h, "m-3", "u1", "third", types.MemoryTypeFact, []float32{0, 0, 1, 0})

	old, err := h.store.Get(context.Background(), "m-1")
	require.NoError(t, err)
	old.IsLatest = false
	require.NoError(t, h.store.UpdatePayload(context.Background(), "m-1", old))

	require.NoError(t, h.engine.DeleteAll(context.Background(), "u1"))

	_, total, err := h.store.List(context.Background(), storage.Filters{UserID: "u1"}, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	deletes := 0
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		entries, err := h.engine.History(context.Background(), id)
		require.NoError(t, err)
		for _, e := range entries {
			if e.Action == types.HistoryDelete {
				deletes++
			}
		}
	}
	assert.Equal(t, 3, deletes, "every row gets a delete entry, latest or not")
}

// latestGuardStore records the highest number of latest records a user would
// hold after each insert, catching transient double-latest states.
type latestGuardStore struct {
	*fakeStore
	maxLatest int
}

func (s *latestGuardStore) Insert(ctx context.Context, vectors [][]float32, records []*types.MemoryRecord) error {
	for _, rec := range records {
		if rec.IsLatest {
			n, _ := s.fakeStore.CountLatest(ctx, rec.UserID)
			if n+1 > s.maxLatest {
				s.maxLatest = n + 1
			}
		}
	}
	return s.fakeStore.Insert(ctx, vectors, records)
}

func TestUpdateRetiresOldVersionBeforeInsert(t *testing.T) {
	guard := &latestGuardStore{}
	h := newTestEngine(t, func(o *Options) {
		guard.fakeStore = o.Store.(*fakeStore)
		o.Store = guard
	})
	vec := []float32{1, 0, 0, 0}
	h.embedder.table["Lives in Berlin"] = vec
	h.embedder.table["Lives in Munich"] = vec
	h.extractor.batches = [][]types.ExtractedFact{
		{fact("Lives in Berlin")},
		{fact("Lives in Munich")},
	}

	first, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	oldID := first.Added[0].ID

	h.completer.arbitration = `{"action":"update","target_id":"` + oldID + `","reason":"moved"}`
	second, err := h.engine.Add(context.Background(), userMessage("x"), AddOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Updated, 1)

	assert.Equal(t, 1, guard.maxLatest, "chain must never hold two latest records, even transiently")
}
