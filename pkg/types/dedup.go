package types

import "fmt"

// Dedup decision actions.
const (
	// DedupAdd inserts the candidate as a brand-new record.
	DedupAdd = "add"

	// DedupUpdate supersedes an existing record: the old record loses
	// IsLatest and a new version is inserted.
	DedupUpdate = "update"

	// DedupSkip drops the candidate as a duplicate of an existing record.
	DedupSkip = "skip"

	// DedupExtend inserts the candidate and links it to a related record;
	// both remain latest.
	DedupExtend = "extend"
)

// DedupDecision is the outcome of arbitrating one candidate fact against the
// user's existing memories.
type DedupDecision struct {
	Action string `json:"action"`

	// TargetID names the existing record the decision refers to. Required for
	// update, skip and extend; empty for add.
	TargetID string `json:"target_id,omitempty"`

	// Reason is a short human-readable justification, recorded on lineage
	// edges and in diagnostics.
	Reason string `json:"reason,omitempty"`
}

// Validate checks that the action is known and that target-bearing actions
// carry a target.
func (d *DedupDecision) Validate() error {
	switch d.Action {
	case DedupAdd:
		return nil
	case DedupUpdate, DedupSkip, DedupExtend:
		if d.TargetID == "" {
			return fmt.Errorf("dedup action %q requires a target ID", d.Action)
		}
		return nil
	default:
		return fmt.Errorf("unknown dedup action: %q", d.Action)
	}
}
