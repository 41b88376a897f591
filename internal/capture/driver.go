// Package capture owns the single live hardware recording handle. Begin and
// End are the only ways in; a second Begin while a handle is open fails.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
)

// Device opens recordings on the underlying hardware.
type Device interface {
	Open(path string) (Recording, error)
}

// Recording is one hardware capture session writing a single file.
type Recording interface {
	// Begin starts pulling samples from the input.
	Begin() error
	// End stops capture and finalizes the file at its path.
	End() error
	// Abandon releases the hardware without finalizing the file.
	Abandon()
}

// Handle identifies the chunk currently being captured.
type Handle struct {
	Path      string
	StartedAt time.Time

	rec   Recording
	ended bool
}

// Driver serializes access to a Device so that at most one recording is
// open at any instant.
type Driver struct {
	dev    Device
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	active *Handle
}

// NewDriver wraps dev. now may be nil, in which case time.Now is used.
func NewDriver(dev Device, now func() time.Time) *Driver {
	if now == nil {
		now = time.Now
	}
	return &Driver{
		dev:    dev,
		now:    now,
		logger: xlog.WithComponent("capture"),
	}
}

// Begin opens a recording targeting path.
func (d *Driver) Begin(path string) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		metrics.RecordCaptureError("begin")
		return nil, &Error{Op: "begin", Path: path, Err: ErrAlreadyActive}
	}

	rec, err := d.dev.Open(path)
	if err != nil {
		metrics.RecordCaptureError("begin")
		return nil, &Error{Op: "begin", Path: path, Err: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)}
	}
	if err := rec.Begin(); err != nil {
		rec.Abandon()
		metrics.RecordCaptureError("begin")
		return nil, &Error{Op: "begin", Path: path, Err: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)}
	}

	h := &Handle{Path: path, StartedAt: d.now(), rec: rec}
	d.active = h
	metrics.CaptureHandlesOpen.Inc()
	d.logger.Debug().Str(xlog.FieldPath, path).Msg("capture started")
	return h, nil
}

// End finalizes h. Ending a nil, stale or already ended handle succeeds
// without touching the device.
func (d *Driver) End(h *Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h == nil || h.ended || h != d.active {
		return nil
	}
	h.ended = true
	d.active = nil
	metrics.CaptureHandlesOpen.Dec()

	if err := h.rec.End(); err != nil {
		metrics.RecordCaptureError("end")
		return &Error{Op: "end", Path: h.Path, Err: err}
	}
	d.logger.Debug().Str(xlog.FieldPath, h.Path).Msg("capture finalized")
	return nil
}

// Abandon releases the active handle, if any, without finalizing its file.
func (d *Driver) Abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == nil {
		return
	}
	d.active.ended = true
	d.active.rec.Abandon()
	d.active = nil
	metrics.CaptureHandlesOpen.Dec()
}

// IsActive reports whether a handle is open.
func (d *Driver) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}
