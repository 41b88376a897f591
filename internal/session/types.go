package session

import (
	"fmt"
	"time"

	"github.com/jwulff/memo/internal/db"
)

// Status is the user-visible recording state.
type Status string

const (
	Idle      Status = "idle"
	Recording Status = "recording"
)

// Snapshot is a copy of the session state at one instant.
type Snapshot struct {
	Status            Status
	SessionStartedAt  time.Time
	ActivePath        string
	ActiveStartedAt   time.Time
	ChunkIndex        int
	PendingPermission bool
	LastError         string
}

// EventKind names what happened in an Event.
type EventKind string

const (
	EventStatus              EventKind = "status"
	EventChunkOpened         EventKind = "chunk_opened"
	EventSegmentPersisted    EventKind = "segment_persisted"
	EventChunkDropped        EventKind = "chunk_dropped"
	EventPermissionRequested EventKind = "permission_requested"
	EventPermissionDenied    EventKind = "permission_denied"
	EventStoreWriteFailed    EventKind = "store_write_failed"
	EventError               EventKind = "error"
)

// Event is delivered to subscribers. Segment is set for
// EventSegmentPersisted, Path for chunk events and Err for failures.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Segment  *db.Segment
	Path     string
	Err      error
}

// StoreWriteError reports a finalized chunk whose metadata could not be
// saved. The audio file stays on disk.
type StoreWriteError struct {
	Path string
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("persist segment %s: %v", e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}
