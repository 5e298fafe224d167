package types

import "time"

// History actions recorded in the audit ledger.
const (
	HistoryAdd    = "add"
	HistoryUpdate = "update"
	HistoryDelete = "delete"
)

// HistoryEntry is one row of the append-only audit ledger. Entries are never
// mutated after insert; ordering by CreatedAt defines the audit trail for a
// given memory ID.
type HistoryEntry struct {
	ID            string    `json:"id"`
	MemoryID      string    `json:"memory_id"`
	Action        string    `json:"action"`
	PreviousValue string    `json:"previous_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}
