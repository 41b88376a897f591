// Package catalog keeps a live, newest-first view of the stored segments.
package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
)

// DefaultDebounce coalesces bursts of file writes into one refresh.
const DefaultDebounce = 100 * time.Millisecond

// Source is the store the catalog projects.
type Source interface {
	All(ctx context.Context) ([]db.Segment, error)
	Subscribe() (<-chan db.Change, func())
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithWatch also refreshes when the database file at path (or its WAL) is
// written by another process.
func WithWatch(path string) Option {
	return func(c *Catalog) { c.watchPath = path }
}

// WithDebounce overrides DefaultDebounce for file events.
func WithDebounce(d time.Duration) Option {
	return func(c *Catalog) { c.debounce = d }
}

// Catalog holds the latest ordered snapshot and pushes it to subscribers.
type Catalog struct {
	src       Source
	watchPath string
	debounce  time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	current []db.Segment
	subs    map[chan []db.Segment]struct{}
}

// New returns a catalog over src. Run loads and maintains it.
func New(src Source, opts ...Option) *Catalog {
	c := &Catalog{
		src:      src,
		debounce: DefaultDebounce,
		logger:   xlog.WithComponent("catalog"),
		subs:     make(map[chan []db.Segment]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the latest snapshot.
func (c *Catalog) Current() []db.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe returns a channel that always holds the newest snapshot; a
// slow reader skips intermediate versions. The current snapshot is
// delivered immediately.
func (c *Catalog) Subscribe() (<-chan []db.Segment, func()) {
	ch := make(chan []db.Segment, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	if c.current != nil {
		ch <- c.current
	}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// Refresh reloads the snapshot from the store and publishes it.
func (c *Catalog) Refresh(ctx context.Context) error {
	segs, err := c.src.All(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if segs == nil {
		segs = []db.Segment{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = segs
	for ch := range c.subs {
		select {
		case ch <- segs:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- segs
		}
	}
	c.logger.Debug().Int(xlog.FieldCount, len(segs)).Msg("catalog refreshed")
	return nil
}

// Run loads the catalog and keeps it current until ctx is cancelled.
func (c *Catalog) Run(ctx context.Context) error {
	changes, unsubscribe := c.src.Subscribe()
	defer unsubscribe()

	if err := c.Refresh(ctx); err != nil {
		return err
	}

	var fileEvents <-chan fsnotify.Event
	var fileErrors <-chan error
	if c.watchPath != "" {
		w, err := c.watch()
		if err != nil {
			return err
		}
		defer w.Close()
		fileEvents, fileErrors = w.Events, w.Errors
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		c.closeSubs()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("catalog refresh failed")
			}

		case ev, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			if !c.relevant(ev) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(c.debounce)
			} else {
				debounce.Reset(c.debounce)
			}
			debounceC = debounce.C

		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			c.logger.Warn().Err(err).Msg("catalog watcher error")

		case <-debounceC:
			debounceC = nil
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("catalog refresh failed")
			}
		}
	}
}

// watch observes the database directory; SQLite replaces and creates the
// WAL and SHM files, so watching the files directly would miss them.
func (c *Catalog) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(c.watchPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	c.logger.Info().Str(xlog.FieldPath, c.watchPath).Msg("watching database for external writes")
	return w, nil
}

func (c *Catalog) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(c.watchPath)
	switch filepath.Base(ev.Name) {
	case base, base + "-wal":
		return true
	}
	return false
}

func (c *Catalog) closeSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
}
