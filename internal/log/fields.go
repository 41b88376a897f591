package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	// Session / capture
	FieldChunkIndex = "chunk_index"
	FieldPath       = "path"
	FieldDuration   = "duration_ms"
	FieldBytes      = "bytes"
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"

	// Store / catalog
	FieldSegmentID = "segment_id"
	FieldCount     = "count"

	// Daemon
	FieldConnID  = "conn_id"
	FieldCommand = "cmd"
)
