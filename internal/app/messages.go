package app

import (
	"github.com/jwulff/memo/internal/daemon"
)

// DaemonConnectedMsg is sent when both daemon connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands (record, play, status, recordings)
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the daemon connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// DaemonEventMsg wraps a streamed event from the daemon.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when the event stream encounters an error.
type DaemonEventErrorMsg struct {
	Err error
}

// StatusResponseMsg carries the response to any command that returns the
// daemon status (status, record, stop, permission, play, stop_playback).
type StatusResponseMsg struct {
	Response daemon.Response
}

// RecordingsResponseMsg carries the response to a recordings command.
type RecordingsResponseMsg struct {
	Response daemon.Response
}

// RecordingsLoadedMsg carries recordings read directly from SQLite.
type RecordingsLoadedMsg struct {
	Recordings []daemon.Recording
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}

// FrameTickMsg redraws time-based parts of the view (chunk progress).
type FrameTickMsg struct{}
