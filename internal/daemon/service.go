package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/playback"
	"github.com/jwulff/memo/internal/session"
)

var (
	// ErrRecordingActive is returned by play while a session is recording.
	ErrRecordingActive = errors.New("cannot play while recording")

	// ErrPermissionPending is returned by play while a recording waits on
	// microphone consent.
	ErrPermissionPending = errors.New("cannot play while microphone permission is pending")

	// ErrNoPrompt is returned by permission when no prompt oracle is configured.
	ErrNoPrompt = errors.New("permission is not in prompt mode")

	// ErrUnknownCommand is returned for unrecognised command names.
	ErrUnknownCommand = errors.New("unknown command")
)

// Recorder is the session surface the daemon drives.
type Recorder interface {
	Toggle(ctx context.Context) (session.Snapshot, error)
	Start(ctx context.Context) (session.Snapshot, error)
	Stop(ctx context.Context) (session.Snapshot, error)
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Event, func())
}

// Player is the playback surface the daemon drives.
type Player interface {
	Play(seg db.Segment) error
	Stop()
	State() playback.State
	Subscribe() (<-chan playback.State, func())
}

// Catalog is the live recordings view.
type Catalog interface {
	Current() []db.Segment
	Subscribe() (<-chan []db.Segment, func())
}

// Segments looks up stored segments by id.
type Segments interface {
	Get(ctx context.Context, id int64) (db.Segment, error)
}

// Resolver answers a pending permission prompt.
type Resolver interface {
	Resolve(ctx context.Context, granted bool) bool
}

// Service maps protocol commands onto the recorder, player and catalog.
type Service struct {
	Recorder Recorder
	Player   Player
	Catalog  Catalog
	Segments Segments
	// Resolver is nil unless permission mode is prompt.
	Resolver Resolver
	// Rotation is reported to clients so they can draw chunk progress.
	Rotation time.Duration

	logger zerolog.Logger

	// exclusive serializes the commands that start recording or playback.
	exclusive sync.Mutex
}

// NewService wires the daemon's collaborators.
func NewService(rec Recorder, player Player, cat Catalog, segs Segments, resolver Resolver, rotation time.Duration) *Service {
	return &Service{
		Recorder: rec,
		Player:   player,
		Catalog:  cat,
		Segments: segs,
		Resolver: resolver,
		Rotation: rotation,
		logger:   xlog.WithComponent("daemon"),
	}
}

// Handle executes one command. Subscribe is handled by the server.
func (s *Service) Handle(ctx context.Context, cmd Command) Response {
	resp, err := s.handle(ctx, cmd)
	if err != nil {
		s.logger.Debug().Err(err).Str(xlog.FieldCommand, cmd.Cmd).Msg("command failed")
		return Response{OK: false, Error: err.Error()}
	}
	resp.OK = true
	return resp
}

func (s *Service) handle(ctx context.Context, cmd Command) (Response, error) {
	switch cmd.Cmd {
	case CmdStatus:
		return s.status(s.Recorder.Snapshot()), nil

	case CmdRecord, CmdStart:
		s.exclusive.Lock()
		defer s.exclusive.Unlock()
		s.Player.Stop()
		toggle := s.Recorder.Start
		if cmd.Cmd == CmdRecord {
			toggle = s.Recorder.Toggle
		}
		snap, err := toggle(ctx)
		if err != nil {
			return Response{}, err
		}
		return s.status(snap), nil

	case CmdStop:
		snap, err := s.Recorder.Stop(ctx)
		if err != nil {
			return Response{}, err
		}
		return s.status(snap), nil

	case CmdPermission:
		if s.Resolver == nil {
			return Response{}, ErrNoPrompt
		}
		granted := cmd.Granted != nil && *cmd.Granted
		s.exclusive.Lock()
		defer s.exclusive.Unlock()
		if granted {
			s.Player.Stop()
		}
		s.Resolver.Resolve(ctx, granted)
		return s.status(s.Recorder.Snapshot()), nil

	case CmdPlay:
		if cmd.ID == nil {
			return Response{}, errors.New("play requires id")
		}
		s.exclusive.Lock()
		defer s.exclusive.Unlock()
		snap := s.Recorder.Snapshot()
		if snap.Status == session.Recording {
			return Response{}, ErrRecordingActive
		}
		if snap.PendingPermission {
			return Response{}, ErrPermissionPending
		}
		seg, err := s.Segments.Get(ctx, *cmd.ID)
		if err != nil {
			return Response{}, err
		}
		if err := s.Player.Play(seg); err != nil {
			return Response{}, err
		}
		return s.status(s.Recorder.Snapshot()), nil

	case CmdStopPlayback:
		s.Player.Stop()
		return s.status(s.Recorder.Snapshot()), nil

	case CmdRecordings:
		return Response{Recordings: ToRecordings(s.Catalog.Current())}, nil

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Cmd)
	}
}

func (s *Service) status(snap session.Snapshot) Response {
	resp := Response{
		Recording:         BoolPtr(snap.Status == session.Recording),
		ActivePath:        snap.ActivePath,
		ChunkIndex:        IntPtr(snap.ChunkIndex),
		PendingPermission: BoolPtr(snap.PendingPermission),
		RotationMillis:    s.Rotation.Milliseconds(),
		LastError:         snap.LastError,
		Playback:          ToPlayback(s.Player.State()),
	}
	if !snap.ActiveStartedAt.IsZero() {
		resp.ChunkStartedAt = snap.ActiveStartedAt.UnixMilli()
	}
	return resp
}

// Subscription merges the event sources for one subscriber.
type Subscription struct {
	Session  <-chan session.Event
	Playback <-chan playback.State
	Catalog  <-chan []db.Segment

	closers []func()
}

// Close releases the underlying subscriptions.
func (s *Subscription) Close() {
	for _, c := range s.closers {
		c()
	}
}

// Subscribe attaches to every event source.
func (s *Service) Subscribe() *Subscription {
	sessCh, c1 := s.Recorder.Subscribe()
	playCh, c2 := s.Player.Subscribe()
	catCh, c3 := s.Catalog.Subscribe()
	return &Subscription{
		Session:  sessCh,
		Playback: playCh,
		Catalog:  catCh,
		closers:  []func(){c1, c2, c3},
	}
}

// ToRecording converts a stored segment to its wire form.
func ToRecording(seg db.Segment) Recording {
	return Recording{
		ID:             seg.ID,
		FilePath:       seg.FilePath,
		StartedAt:      seg.StartedAt.UnixMilli(),
		DurationMillis: seg.DurationMillis(),
		Synced:         seg.Synced,
		Transcript:     seg.Transcript,
	}
}

// ToRecordings converts a catalog snapshot, keeping its order.
func ToRecordings(segs []db.Segment) []Recording {
	out := make([]Recording, len(segs))
	for i, seg := range segs {
		out[i] = ToRecording(seg)
	}
	return out
}

// ToPlayback converts a playback state to its wire form.
func ToPlayback(st playback.State) *Playback {
	return &Playback{
		Playing:  st.Status == playback.Playing,
		ID:       st.SegmentID,
		Total:    st.TotalSeconds,
		Elapsed:  st.ElapsedSeconds,
		Finished: st.Finished,
	}
}

// SessionEvent converts a session event to its wire form.
func SessionEvent(ev session.Event) Event {
	snap := ev.Snapshot
	out := Event{
		Recording:  BoolPtr(snap.Status == session.Recording),
		Path:       ev.Path,
		ChunkIndex: IntPtr(snap.ChunkIndex),
	}
	if !snap.ActiveStartedAt.IsZero() {
		out.ChunkStartedAt = snap.ActiveStartedAt.UnixMilli()
	}

	switch ev.Kind {
	case session.EventStatus:
		out.Event = EventStatus
		out.PendingPermission = BoolPtr(snap.PendingPermission)
		out.Message = snap.LastError
	case session.EventChunkOpened:
		out.Event = EventChunk
	case session.EventSegmentPersisted:
		out.Event = EventSegment
		if ev.Segment != nil {
			r := ToRecording(*ev.Segment)
			out.Segment = &r
		}
	case session.EventChunkDropped:
		out.Event = EventDropped
	case session.EventPermissionRequested:
		out.Event = EventPermissionRequest
		out.PendingPermission = BoolPtr(true)
	case session.EventPermissionDenied:
		out.Event = EventPermissionDenied
		out.PendingPermission = BoolPtr(false)
		out.Message = errMessage(ev.Err)
	case session.EventStoreWriteFailed:
		out.Event = EventStoreError
		out.Message = errMessage(ev.Err)
		out.Transient = BoolPtr(true)
	case session.EventError:
		out.Event = EventError
		out.Message = errMessage(ev.Err)
		out.Transient = BoolPtr(false)
	default:
		out.Event = string(ev.Kind)
	}
	return out
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
