// Package playback plays one stored segment at a time and counts down its
// remaining time.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/memo/internal/clock"
	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
)

// ErrNotLoaded is returned by devices asked to play before Load.
var ErrNotLoaded = errors.New("no audio loaded")

// Device is the audio output.
type Device interface {
	Load(path string) error
	Play() error
	Stop() error
	Release() error
}

// Status is the playback state.
type Status string

const (
	Idle    Status = "idle"
	Playing Status = "playing"
)

// State describes the current playback. Finished is set on the Idle state
// published by an automatic stop at the end of the countdown.
type State struct {
	Status         Status
	SegmentID      int64
	Path           string
	TotalSeconds   int
	ElapsedSeconds int
	Finished       bool
}

// Remaining is the number of seconds left in the countdown.
func (s State) Remaining() int {
	return s.TotalSeconds - s.ElapsedSeconds
}

// TotalSeconds rounds a recorded duration up to whole seconds.
func TotalSeconds(d time.Duration) int {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

// Coordinator owns the playback device. The countdown is driven by the
// clock, not by the device reporting completion.
type Coordinator struct {
	dev    Device
	clock  clock.Clock
	tick   time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	ticker clock.Ticker
	quit   chan struct{}
	subs   map[chan State]struct{}
	wg     sync.WaitGroup
}

// NewCoordinator returns an idle coordinator. tick defaults to one second.
func NewCoordinator(dev Device, clk clock.Clock, tick time.Duration) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Coordinator{
		dev:    dev,
		clock:  clk,
		tick:   tick,
		logger: xlog.WithComponent("playback"),
		state:  State{Status: Idle},
		subs:   make(map[chan State]struct{}),
	}
}

// Play starts seg, stopping any current playback first.
func (c *Coordinator) Play(seg db.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stopped := c.state.Status == Playing
	if stopped {
		c.stopLocked(false)
	}

	if err := c.dev.Load(seg.FilePath); err != nil {
		_ = c.dev.Release()
		c.publishStoppedLocked(stopped)
		return fmt.Errorf("load %s: %w", seg.FilePath, err)
	}
	if err := c.dev.Play(); err != nil {
		_ = c.dev.Release()
		c.publishStoppedLocked(stopped)
		return fmt.Errorf("play %s: %w", seg.FilePath, err)
	}

	c.gen++
	c.state = State{
		Status:       Playing,
		SegmentID:    seg.ID,
		Path:         seg.FilePath,
		TotalSeconds: TotalSeconds(seg.Duration),
	}
	c.ticker = c.clock.NewTicker(c.tick)
	c.quit = make(chan struct{})
	c.wg.Add(1)
	go c.countdown(c.gen, c.ticker, c.quit)

	metrics.SetPlaybackActive(true)
	c.logger.Info().
		Int64(xlog.FieldSegmentID, seg.ID).
		Int("total_seconds", c.state.TotalSeconds).
		Msg("playback started")
	c.publishLocked()
	return nil
}

// Stop ends the current playback. It does nothing when idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == Idle {
		return
	}
	c.stopLocked(false)
	c.publishLocked()
}

// State returns the current playback state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe delivers every state change. Slow subscribers miss updates.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
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

// Close stops playback and waits for the countdown goroutine to exit.
func (c *Coordinator) Close() {
	c.Stop()
	c.wg.Wait()
}

func (c *Coordinator) countdown(gen uint64, ticker clock.Ticker, quit <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C():
			if !c.advance(gen) {
				return
			}
		}
	}
}

// advance counts one second. It reports whether the countdown continues.
func (c *Coordinator) advance(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state.Status != Playing {
		return false
	}
	if c.state.ElapsedSeconds < c.state.TotalSeconds {
		c.state.ElapsedSeconds++
	}
	if c.state.ElapsedSeconds >= c.state.TotalSeconds {
		c.stopLocked(true)
		c.publishLocked()
		return false
	}
	c.publishLocked()
	return true
}

// stopLocked releases the device and resets the state to Idle.
func (c *Coordinator) stopLocked(finished bool) {
	c.ticker.Stop()
	close(c.quit)
	c.gen++

	if err := c.dev.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("device stop failed")
	}
	if err := c.dev.Release(); err != nil {
		c.logger.Warn().Err(err).Msg("device release failed")
	}

	c.logger.Info().
		Int64(xlog.FieldSegmentID, c.state.SegmentID).
		Int("elapsed_seconds", c.state.ElapsedSeconds).
		Bool("finished", finished).
		Msg("playback stopped")

	c.state = State{Status: Idle, SegmentID: c.state.SegmentID, Path: c.state.Path,
		TotalSeconds: c.state.TotalSeconds, ElapsedSeconds: c.state.ElapsedSeconds, Finished: finished}
	metrics.SetPlaybackActive(false)
}

// publishStoppedLocked tells subscribers about a playback that Play
// stopped before failing to start the next one.
func (c *Coordinator) publishStoppedLocked(stopped bool) {
	if stopped {
		c.publishLocked()
	}
}

func (c *Coordinator) publishLocked() {
	for ch := range c.subs {
		select {
		case ch <- c.state:
		default:
		}
	}
}
