// Package types defines the shared data model for the ClawMem memory engine:
// versioned memory records, dedup decisions, history entries, graph nodes and
// retention rules.
package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Memory type classification values.
const (
	// MemoryTypeFact is a durable statement about the user or the world.
	MemoryTypeFact = "fact"

	// MemoryTypePreference is a user preference; boosted during retrieval.
	MemoryTypePreference = "preference"

	// MemoryTypeEpisode is a dated event; decays with age during retrieval.
	MemoryTypeEpisode = "episode"
)

// IsValidMemoryType reports whether t is one of the known memory types.
func IsValidMemoryType(t string) bool {
	switch t {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypeEpisode:
		return true
	}
	return false
}

// MemoryRecord is a single versioned fact extracted from conversation.
//
// Records form update chains linked by UPDATES edges in the lineage graph.
// Within a chain at most one record has IsLatest=true at any instant, and
// Version is strictly increasing along the chain.
type MemoryRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	UserID     string    `json:"user_id"`
	Category   string    `json:"category,omitempty"`
	MemoryType string    `json:"memory_type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// IsLatest marks the authoritative current version of this record's chain.
	IsLatest bool `json:"is_latest"`

	// Version starts at 1 and increments on every update or in-place edit.
	Version int `json:"version"`

	// EventDate is when the remembered event occurred, if the extractor could
	// determine one. Retention and episode decay fall back to CreatedAt when nil.
	EventDate *time.Time `json:"event_date,omitempty"`

	// ContentHash is the normalized content hash used for exact-duplicate
	// detection. See HashContent.
	ContentHash string `json:"content_hash"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Score is the final retrieval score. Populated only on search results.
	Score float64 `json:"score,omitempty"`
}

// ReferenceDate returns the date used for age calculations: EventDate when
// present, otherwise CreatedAt.
func (m *MemoryRecord) ReferenceDate() time.Time {
	if m.EventDate != nil && !m.EventDate.IsZero() {
		return *m.EventDate
	}
	return m.CreatedAt
}

// AgeDays returns the record's age in fractional days relative to now.
func (m *MemoryRecord) AgeDays(now time.Time) float64 {
	return now.Sub(m.ReferenceDate()).Hours() / 24.0
}

// Validate checks the structural invariants a record must satisfy before it
// can be persisted.
func (m *MemoryRecord) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory record ID is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory record content is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("memory record user ID is required")
	}
	if !IsValidMemoryType(m.MemoryType) {
		return fmt.Errorf("invalid memory type: %q", m.MemoryType)
	}
	if m.Version < 1 {
		return fmt.Errorf("memory record version must be >= 1, got %d", m.Version)
	}
	return nil
}

// NormalizeContent trims surrounding whitespace and case-folds content so that
// literal repeats hash identically regardless of capitalisation.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

// HashContent returns the hex SHA-256 of the normalized content. Two texts
// that differ only in surrounding whitespace or letter case share a hash.
func HashContent(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(NormalizeContent(content))))
}

// Message is a single turn of conversation handed to the extraction adapter.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractedFact is one candidate memory produced by the extraction adapter
// before deduplication.
type ExtractedFact struct {
	Memory     string `json:"memory"`
	Category   string `json:"category,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`

	// EventDate is an optional ISO date (YYYY-MM-DD) for episodic facts.
	EventDate string `json:"event_date,omitempty"`
}
