package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/DeepExtrema/clawmem-sub000/internal/llm"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// The lineage graph is an enrichment layer, not a source of truth: every
// write here is best-effort and must never fail the memory operation that
// triggered it.

// enrichLineage mines each newly-added fact for entities and relationships,
// fanned out since the work is additive and order-independent. Failures are
// logged and dropped.
func (e *Engine) enrichLineage(ctx context.Context, added []types.MemoryRecord) []types.GraphRelation {
	results := make([][]types.GraphRelation, len(added))

	var wg sync.WaitGroup
	for i := range added {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			relations, err := e.enrichOne(ctx, &added[i])
			if err != nil {
				log.Printf("engine: lineage enrichment for %s failed: %v", added[i].ID, err)
				return
			}
			results[i] = relations
		}(i)
	}
	wg.Wait()

	var all []types.GraphRelation
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func (e *Engine) enrichOne(ctx context.Context, rec *types.MemoryRecord) ([]types.GraphRelation, error) {
	raw, err := e.completer.Complete(ctx, llm.GraphExtractionPrompt(rec.Content))
	if err != nil {
		return nil, err
	}
	extraction := llm.ParseGraphExtraction(raw)

	for _, ent := range extraction.Entities {
		if err := e.graph.UpsertEntity(ctx, &types.Entity{
			Name:   ent.Name,
			Type:   ent.Type,
			UserID: rec.UserID,
		}); err != nil {
			return nil, fmt.Errorf("upsert entity %q: %w", ent.Name, err)
		}
	}

	var relations []types.GraphRelation
	for _, rel := range extraction.Relations {
		r := types.GraphRelation{
			Source:       rel.From,
			Relationship: rel.Relationship,
			Target:       rel.To,
			UserID:       rec.UserID,
			Confidence:   rel.Confidence,
		}
		if err := e.graph.AddRelation(ctx, &r); err != nil {
			return nil, fmt.Errorf("add relation %s-%s: %w", rel.From, rel.To, err)
		}
		relations = append(relations, r)
	}
	return relations, nil
}

// linkLineage records an UPDATES or EXTENDS edge between memory record
// identities, upserting stub nodes first so the edge never dangles.
// Best-effort: a failure is logged, never surfaced.
func (e *Engine) linkLineage(ctx context.Context, newRec *types.MemoryRecord, oldID, relationship, reason string) {
	if e.graph == nil || oldID == "" {
		return
	}
	nodes := []*types.MemoryNode{
		{ID: newRec.ID, UserID: newRec.UserID, Content: newRec.Content},
		{ID: oldID, UserID: newRec.UserID},
	}
	for _, n := range nodes {
		if err := e.graph.UpsertMemoryNode(ctx, n); err != nil {
			log.Printf("engine: lineage node %s: %v", n.ID, err)
			return
		}
	}
	err := e.graph.AddRelation(ctx, &types.GraphRelation{
		Source:       newRec.ID,
		Relationship: relationship,
		Target:       oldID,
		UserID:       newRec.UserID,
		Confidence:   1.0,
		Reason:       reason,
	})
	if err != nil {
		log.Printf("engine: lineage edge %s->%s: %v", newRec.ID, oldID, err)
	}
}

// GraphRelations returns a user's edges, newest first.
func (e *Engine) GraphRelations(ctx context.Context, userID string, limit int) ([]types.GraphRelation, error) {
	if e.graph == nil {
		return nil, nil
	}
	return e.graph.Relations(ctx, userID, limit)
}

// GraphEntities returns a user's entity nodes, newest first.
func (e *Engine) GraphEntities(ctx context.Context, userID string, limit int) ([]types.Entity, error) {
	if e.graph == nil {
		return nil, nil
	}
	return e.graph.Entities(ctx, userID, limit)
}

// GraphSearch returns a user's entities whose name matches the query.
func (e *Engine) GraphSearch(ctx context.Context, userID, query string, limit int) ([]types.Entity, error) {
	if e.graph == nil {
		return nil, nil
	}
	return e.graph.SearchEntities(ctx, userID, query, limit)
}
