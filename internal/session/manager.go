// Package session runs the continuous recording session: one actor
// goroutine owns the session state, rotates chunks on a timer and hands
// finished chunks to a persister so the next chunk can begin immediately.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/memo/internal/capture"
	"github.com/jwulff/memo/internal/chunkfile"
	"github.com/jwulff/memo/internal/clock"
	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
	"github.com/jwulff/memo/internal/permission"
)

// DefaultRotationInterval bounds the audio held in one unfinalized file.
const DefaultRotationInterval = 30 * time.Second

// ErrClosed is returned by commands issued after Run has returned.
var ErrClosed = errors.New("session manager closed")

// Driver is the capture surface the session uses.
type Driver interface {
	Begin(path string) (*capture.Handle, error)
	End(h *capture.Handle) error
	IsActive() bool
}

// Allocator hands out chunk paths.
type Allocator interface {
	Next() (string, error)
}

// Store receives finished segments.
type Store interface {
	Insert(ctx context.Context, seg db.Segment) (db.Segment, error)
}

// Options configures a Manager.
type Options struct {
	Driver           Driver
	Allocator        Allocator
	Store            Store
	Oracle           permission.Oracle
	Clock            clock.Clock
	RotationInterval time.Duration
	// PersistQueue is the number of finished chunks that may wait for the
	// store before rotation blocks.
	PersistQueue int
}

type cmdKind int

const (
	cmdToggle cmdKind = iota
	cmdStart
	cmdStop
)

type command struct {
	kind  cmdKind
	reply chan Snapshot
}

type permResult struct {
	seq      uint64
	decision permission.Decision
}

// Manager is the recording session state machine. All session state is
// owned by the goroutine running Run; other goroutines talk to it through
// commands and read Snapshot copies.
type Manager struct {
	driver   Driver
	alloc    Allocator
	store    Store
	oracle   permission.Oracle
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	cmds     chan command
	perms    chan permResult
	persistQ chan db.Segment
	done     chan struct{}
	once     sync.Once

	// Owned by the Run goroutine.
	state    Snapshot
	handle   *capture.Handle
	rotation clock.Timer
	permSeq  uint64
	runCtx   context.Context
	waiters  sync.WaitGroup

	mu   sync.Mutex
	snap Snapshot
	subs map[chan Event]struct{}
}

// New returns a Manager. Run must be called for commands to be served.
func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = DefaultRotationInterval
	}
	if opts.PersistQueue <= 0 {
		opts.PersistQueue = 16
	}
	if opts.Oracle == nil {
		opts.Oracle = permission.Static(permission.Granted)
	}
	m := &Manager{
		driver:   opts.Driver,
		alloc:    opts.Allocator,
		store:    opts.Store,
		oracle:   opts.Oracle,
		clock:    opts.Clock,
		interval: opts.RotationInterval,
		logger:   xlog.WithComponent("session"),
		cmds:     make(chan command),
		perms:    make(chan permResult),
		persistQ: make(chan db.Segment, opts.PersistQueue),
		done:     make(chan struct{}),
		subs:     make(map[chan Event]struct{}),
	}
	m.state.Status = Idle
	m.snap = m.state
	return m
}

// Toggle starts a stopped session or stops a running one.
func (m *Manager) Toggle(ctx context.Context) (Snapshot, error) {
	return m.send(ctx, cmdToggle)
}

// Start begins recording. It is a no-op while recording.
func (m *Manager) Start(ctx context.Context) (Snapshot, error) {
	return m.send(ctx, cmdStart)
}

// Stop ends recording, finalizing the current chunk. It is a no-op while
// idle apart from clearing a pending permission request.
func (m *Manager) Stop(ctx context.Context) (Snapshot, error) {
	return m.send(ctx, cmdStop)
}

func (m *Manager) send(ctx context.Context, kind cmdKind) (Snapshot, error) {
	c := command{kind: kind, reply: make(chan Snapshot, 1)}
	select {
	case m.cmds <- c:
	case <-m.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-c.reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot returns the latest published state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel of session events. Events are dropped for
// subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run serves commands until ctx is cancelled. On return any active
// recording has been stopped and every finished chunk handed to the store.
func (m *Manager) Run(ctx context.Context) error {
	first := false
	m.once.Do(func() { first = true })
	if !first {
		return errors.New("session manager already running")
	}

	m.runCtx = ctx
	persisted := make(chan struct{})
	go m.persist(context.WithoutCancel(ctx), persisted)

	m.logger.Info().Dur("rotation_interval", m.interval).Msg("session manager started")

	for {
		var tick <-chan time.Time
		if m.rotation != nil {
			tick = m.rotation.C()
		}

		select {
		case <-ctx.Done():
			m.stop("shutdown")
			m.waiters.Wait()
			close(m.persistQ)
			<-persisted
			m.closeSubs()
			close(m.done)
			m.logger.Info().Msg("session manager stopped")
			return nil

		case c := <-m.cmds:
			m.serve(c)

		case <-tick:
			m.onTick()

		case r := <-m.perms:
			m.onPermission(r)
		}
	}
}

func (m *Manager) serve(c command) {
	switch c.kind {
	case cmdToggle:
		if m.state.Status == Recording {
			m.stop("user")
		} else {
			m.requestStart()
		}
	case cmdStart:
		if m.state.Status == Idle {
			m.requestStart()
		}
	case cmdStop:
		m.stop("user")
	}
	c.reply <- m.state
}

// onTick rotates the current chunk. Commands already waiting are served
// first so that a stop racing the tick wins and no new chunk is begun.
func (m *Manager) onTick() {
	t := m.rotation
	for drained := false; !drained; {
		select {
		case c := <-m.cmds:
			m.serve(c)
		default:
			drained = true
		}
	}
	if m.rotation != t || m.state.Status != Recording {
		return
	}
	m.rotate()
}

func (m *Manager) requestStart() {
	if m.state.PendingPermission {
		return
	}
	if m.oracle.Check(m.runCtx) == permission.Granted {
		m.startSession()
		return
	}

	m.permSeq++
	seq := m.permSeq
	m.state.PendingPermission = true
	m.publish()
	m.emit(Event{Kind: EventPermissionRequested})
	m.logger.Info().Msg("microphone permission missing, requesting")

	ch := m.oracle.Request(m.runCtx)
	m.waiters.Add(1)
	go func() {
		defer m.waiters.Done()
		select {
		case d := <-ch:
			select {
			case m.perms <- permResult{seq: seq, decision: d}:
			case <-m.runCtx.Done():
			}
		case <-m.runCtx.Done():
		}
	}()
}

func (m *Manager) onPermission(r permResult) {
	if r.seq != m.permSeq || !m.state.PendingPermission {
		m.logger.Debug().Uint64("seq", r.seq).Msg("ignoring stale permission result")
		return
	}
	m.state.PendingPermission = false

	if r.decision != permission.Granted {
		m.publish()
		m.emit(Event{Kind: EventPermissionDenied, Err: permission.ErrDenied})
		m.logger.Info().Msg("microphone permission denied")
		return
	}
	if m.state.Status == Idle {
		m.startSession()
		return
	}
	m.publish()
}

func (m *Manager) startSession() {
	now := m.clock.Now()
	m.state.LastError = ""
	m.state.ChunkIndex = 0
	m.state.SessionStartedAt = now

	if err := m.openChunk(); err != nil {
		m.fail(err)
		return
	}
	m.rotation = m.clock.NewTimer(m.interval)
	m.transition(Recording)
	m.emit(Event{Kind: EventChunkOpened, Path: m.state.ActivePath})
}

// openChunk allocates and begins the next chunk.
func (m *Manager) openChunk() error {
	path, err := m.alloc.Next()
	if err != nil {
		return err
	}
	h, err := m.driver.Begin(path)
	if err != nil {
		return err
	}
	m.handle = h
	m.state.ActivePath = path
	m.state.ActiveStartedAt = m.clock.Now()

	m.logger.Debug().
		Str(xlog.FieldPath, path).
		Int(xlog.FieldChunkIndex, m.state.ChunkIndex).
		Msg("chunk opened")
	return nil
}

func (m *Manager) rotate() {
	m.closeChunk()

	m.state.ChunkIndex++
	if err := m.openChunk(); err != nil {
		m.fail(err)
		return
	}
	metrics.ChunksRotatedTotal.Inc()
	m.rotation.Reset(m.interval)
	m.publish()
	m.emit(Event{Kind: EventChunkOpened, Path: m.state.ActivePath})
}

// closeChunk ends the active chunk and queues it for persistence when the
// file has content.
func (m *Manager) closeChunk() {
	h := m.handle
	if h == nil {
		return
	}
	startedAt := m.state.ActiveStartedAt
	m.handle = nil
	m.state.ActivePath = ""
	m.state.ActiveStartedAt = time.Time{}

	if err := m.driver.End(h); err != nil {
		m.logger.Warn().Err(err).Str(xlog.FieldPath, h.Path).Msg("capture end failed")
	}
	duration := m.clock.Now().Sub(startedAt)

	size, ok := chunkfile.Usable(h.Path)
	if !ok {
		metrics.ChunksDroppedTotal.Inc()
		m.logger.Debug().Str(xlog.FieldPath, h.Path).Msg("empty chunk dropped")
		m.emit(Event{Kind: EventChunkDropped, Path: h.Path})
		return
	}

	m.logger.Debug().
		Str(xlog.FieldPath, h.Path).
		Int64(xlog.FieldBytes, size).
		Int64(xlog.FieldDuration, duration.Milliseconds()).
		Msg("chunk closed")
	m.persistQ <- db.Segment{
		FilePath:  h.Path,
		StartedAt: startedAt,
		Duration:  duration,
	}
}

func (m *Manager) stop(reason string) {
	m.state.PendingPermission = false
	m.permSeq++
	if m.state.Status == Idle {
		m.publish()
		return
	}

	m.rotation.Stop()
	m.rotation = nil
	m.closeChunk()
	m.logger.Info().Str("reason", reason).Msg("recording stopped")
	m.transition(Idle)
}

// fail forces the session idle after a capture or allocation error.
func (m *Manager) fail(err error) {
	m.logger.Error().Err(err).Msg("recording failed")
	if m.rotation != nil {
		m.rotation.Stop()
		m.rotation = nil
	}
	m.closeChunk()
	m.state.LastError = err.Error()
	m.transition(Idle)
	m.emit(Event{Kind: EventError, Err: err})
}

func (m *Manager) transition(to Status) {
	from := m.state.Status
	m.state.Status = to
	if to == Idle {
		m.state.ActivePath = ""
		m.state.ActiveStartedAt = time.Time{}
	}
	metrics.SetRecording(to == Recording)
	m.publish()
	if from != to {
		m.logger.Info().
			Str(xlog.FieldOldState, string(from)).
			Str(xlog.FieldNewState, string(to)).
			Msg("session state changed")
		m.emit(Event{Kind: EventStatus})
	}
}

func (m *Manager) publish() {
	m.mu.Lock()
	m.snap = m.state
	m.mu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Snapshot = m.snap
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
}
