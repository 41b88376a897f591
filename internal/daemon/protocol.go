// Package daemon provides the memo daemon's Unix socket server together with
// the client and NDJSON protocol types used to talk to it.
package daemon

// Command names understood by the daemon.
const (
	CmdStatus       = "status"
	CmdRecord       = "record"
	CmdStart        = "start"
	CmdStop         = "stop"
	CmdPermission   = "permission"
	CmdPlay         = "play"
	CmdStopPlayback = "stop_playback"
	CmdRecordings   = "recordings"
	CmdSubscribe    = "subscribe"
)

// Event names streamed to subscribers.
const (
	EventStatus            = "status"
	EventChunk             = "chunk"
	EventSegment           = "segment"
	EventDropped           = "dropped"
	EventPermissionRequest = "permission_request"
	EventPermissionDenied  = "permission_denied"
	EventStoreError        = "store_error"
	EventError             = "error"
	EventPlayback          = "playback"
	EventCatalog           = "catalog"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd     string   `json:"cmd"`
	ID      *int64   `json:"id,omitempty"`
	Granted *bool    `json:"granted,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// Recording is the wire form of a stored segment. Times are epoch millis.
type Recording struct {
	ID             int64   `json:"id"`
	FilePath       string  `json:"filePath"`
	StartedAt      int64   `json:"startedAt"`
	DurationMillis int64   `json:"durationMillis"`
	Synced         bool    `json:"synced"`
	Transcript     *string `json:"transcript,omitempty"`
}

// Playback is the wire form of the playback state.
type Playback struct {
	Playing  bool  `json:"playing"`
	ID       int64 `json:"id,omitempty"`
	Total    int   `json:"total"`
	Elapsed  int   `json:"elapsed"`
	Finished bool  `json:"finished,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK                bool        `json:"ok"`
	Recording         *bool       `json:"recording,omitempty"`
	ActivePath        string      `json:"activePath,omitempty"`
	ChunkIndex        *int        `json:"chunkIndex,omitempty"`
	ChunkStartedAt    int64       `json:"chunkStartedAt,omitempty"`
	RotationMillis    int64       `json:"rotationMillis,omitempty"`
	PendingPermission *bool       `json:"pendingPermission,omitempty"`
	Playback          *Playback   `json:"playback,omitempty"`
	Recordings        []Recording `json:"recordings,omitempty"`
	LastError         string      `json:"lastError,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event             string      `json:"event"`
	Recording         *bool       `json:"recording,omitempty"`
	Path              string      `json:"path,omitempty"`
	ChunkIndex        *int        `json:"chunkIndex,omitempty"`
	ChunkStartedAt    int64       `json:"chunkStartedAt,omitempty"`
	PendingPermission *bool       `json:"pendingPermission,omitempty"`
	Segment           *Recording  `json:"segment,omitempty"`
	Playback          *Playback   `json:"playback,omitempty"`
	Recordings        []Recording `json:"recordings,omitempty"`
	Message           string      `json:"message,omitempty"`
	Transient         *bool       `json:"transient,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building commands.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(i int) *int { return &i }

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(i int64) *int64 { return &i }
