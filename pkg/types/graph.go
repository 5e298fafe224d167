package types

import "time"

// Lineage edge labels linking memory record versions.
const (
	// RelationUpdates links a superseding record to the version it replaced.
	RelationUpdates = "UPDATES"

	// RelationExtends links a record to a related record it adds detail to.
	// Unlike UPDATES, both sides remain latest.
	RelationExtends = "EXTENDS"
)

// Entity is a node in the lineage graph extracted from memory content.
// Entities are upserted by the logical key (Name, UserID).
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryNode is a stub node representing a memory record inside the graph.
// Nodes are auto-created before lineage edges so that edge insertion never
// fails on a missing endpoint.
type MemoryNode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GraphRelation is a directed edge between two named nodes. Source and Target
// are entity names for extracted relationships, or memory record IDs for
// UPDATES/EXTENDS lineage edges.
type GraphRelation struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Relationship string    `json:"relationship"`
	Target       string    `json:"target"`
	UserID       string    `json:"user_id"`
	Confidence   float64   `json:"confidence,omitempty"`

	// Reason carries the dedup arbitration reason on lineage edges.
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
