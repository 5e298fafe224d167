// Package notify implements the change feed at the host-adapter boundary.
// The engine process drops one file per memory lifecycle event under
// {dataPath}/events/; adapter processes tail the directory with Feed and
// consume the files, so no store polling is needed.
//
// Files are written to a temp name and renamed into place, so a feed never
// observes a partial event. Filenames are zero-padded timestamp plus a
// per-writer sequence, making the backlog replayable in emission order.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Memory lifecycle event types.
const (
	EventAdded   = "memory_added"
	EventUpdated = "memory_updated"
	EventDeleted = "memory_deleted"
)

const eventSuffix = ".event"

// Event is the payload carried by one event file.
type Event struct {
	Type     string `json:"type"`
	MemoryID string `json:"memory_id"`
	UserID   string `json:"user_id"`
	Time     int64  `json:"time"`
}

// EventWriter emits change-feed events into a shared directory.
type EventWriter struct {
	dir string
	seq atomic.Uint64
}

// NewEventWriter creates a writer emitting to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify emits one event. Safe for concurrent use. The feed is best-effort,
// so callers typically log the error and move on.
func (w *EventWriter) Notify(eventType, memoryID, userID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:     eventType,
		MemoryID: memoryID,
		UserID:   userID,
		Time:     time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)

	// Zero-padded so lexicographic order is emission order; the sequence
	// breaks ties when the clock is coarser than the call rate.
	name := fmt.Sprintf("%020d-%06d-%s", evt.Time, w.seq.Add(1), sanitizeID(memoryID))
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write event: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+eventSuffix)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
