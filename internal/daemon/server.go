package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/jwulff/memo/internal/log"
)

// Server accepts client connections on a Unix socket. Each line read is a
// Command answered by one Response line; after a subscribe command the
// connection only carries Events.
type Server struct {
	path   string
	svc    *Service
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer returns a server for svc listening at path.
func NewServer(path string, svc *Service) *Server {
	return &Server{
		path:   path,
		svc:    svc,
		logger: xlog.WithComponent("daemon.server"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket, replacing a stale socket file left by a previous
// run. It fails if another daemon is still answering on it.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		if c, err := net.Dial("unix", s.path); err == nil {
			c.Close()
			return nil, fmt.Errorf("daemon already running at %s", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.path, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// connection and waits for the handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info().Str(xlog.FieldPath, s.path).Msg("daemon listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.shutdown()
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}

	s.shutdown()
	_ = os.Remove(s.path)
	s.logger.Info().Msg("daemon stopped listening")
	return nil
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := s.logger.With().Str(xlog.FieldConnID, uuid.NewString()).Logger()
	logger.Debug().Msg("client connected")
	defer logger.Debug().Msg("client disconnected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if err := enc.Encode(Response{Error: fmt.Sprintf("bad command: %v", err)}); err != nil {
				return
			}
			continue
		}
		logger.Debug().Str(xlog.FieldCommand, cmd.Cmd).Msg("command")

		if cmd.Cmd == CmdSubscribe {
			if err := enc.Encode(Response{OK: true}); err != nil {
				return
			}
			s.stream(ctx, conn, enc, filter(cmd.Events), logger)
			return
		}

		if err := enc.Encode(s.svc.Handle(ctx, cmd)); err != nil {
			logger.Debug().Err(err).Msg("write response")
			return
		}
	}
}

// stream writes events until the client goes away or ctx is cancelled.
func (s *Server) stream(ctx context.Context, conn net.Conn, enc *json.Encoder, want func(string) bool, logger zerolog.Logger) {
	sub := s.svc.Subscribe()
	defer sub.Close()

	// Subscribers send nothing more; a read returning means they hung up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	// The first status event gives new subscribers a baseline.
	if want(EventStatus) {
		snap := s.svc.status(s.svc.Recorder.Snapshot())
		ev := Event{
			Event:             EventStatus,
			Recording:         snap.Recording,
			ChunkIndex:        snap.ChunkIndex,
			ChunkStartedAt:    snap.ChunkStartedAt,
			PendingPermission: snap.PendingPermission,
			Message:           snap.LastError,
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
	}

	sessCh, playCh, catCh := sub.Session, sub.Playback, sub.Catalog
	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case se, ok := <-sessCh:
			if !ok {
				sessCh = nil
				continue
			}
			ev = SessionEvent(se)
		case st, ok := <-playCh:
			if !ok {
				playCh = nil
				continue
			}
			ev = Event{Event: EventPlayback, Playback: ToPlayback(st)}
		case segs, ok := <-catCh:
			if !ok {
				catCh = nil
				continue
			}
			ev = Event{Event: EventCatalog, Recordings: ToRecordings(segs)}
		}

		if !want(ev.Event) {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			logger.Debug().Err(err).Msg("write event")
			return
		}
	}
}

// filter returns a predicate accepting the named events, or all events
// when names is empty.
func filter(names []string) func(string) bool {
	if len(names) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}
