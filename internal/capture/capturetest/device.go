// Package capturetest provides a scripted Recording Device for tests.
package capturetest

import (
	"errors"
	"os"
	"sync"

	"github.com/jwulff/memo/internal/capture"
)

// ErrScripted is the default failure injected by FailOpen.
var ErrScripted = errors.New("scripted device failure")

// Device is an in-memory capture.Device. End writes Content to the target
// path, or an empty file when the device is set to produce empty chunks.
type Device struct {
	Content []byte

	mu        sync.Mutex
	calls     int
	open      int
	maxOpen   int
	opened    []string
	ended     []string
	abandoned []string
	failAt    map[int]error
	empty     bool
	missing   bool
	endErr    error
}

// New returns a device that writes a few bytes per chunk.
func New() *Device {
	return &Device{Content: []byte("pcm"), failAt: make(map[int]error)}
}

// FailOpen makes the n-th Open call (0-based) fail with err.
func (d *Device) FailOpen(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = ErrScripted
	}
	d.failAt[n] = err
}

// SetEmpty makes subsequent End calls leave a zero-length file.
func (d *Device) SetEmpty(empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.empty = empty
}

// SetMissing makes subsequent End calls leave no file at all.
func (d *Device) SetMissing(missing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missing = missing
}

// FailEnd makes subsequent End calls return err after writing nothing.
func (d *Device) FailEnd(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endErr = err
}

// Opened lists every path passed to a successful Open, in order.
func (d *Device) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

// Ended lists every path finalized by End, in order.
func (d *Device) Ended() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ended...)
}

// Abandoned lists every path released by Abandon.
func (d *Device) Abandoned() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.abandoned...)
}

// OpenCount is the number of recordings currently open.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// MaxOpen is the highest number of simultaneously open recordings seen.
func (d *Device) MaxOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

func (d *Device) Open(path string) (capture.Recording, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	call := d.calls
	d.calls++
	if err, ok := d.failAt[call]; ok {
		return nil, err
	}
	d.opened = append(d.opened, path)
	return &recording{dev: d, path: path}, nil
}

type recording struct {
	dev  *Device
	path string
	live bool
}

func (r *recording) Begin() error {
	d := r.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	r.live = true
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return nil
}

func (r *recording) End() error {
	d := r.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.live {
		r.live = false
		d.open--
	}
	if d.endErr != nil {
		return d.endErr
	}
	d.ended = append(d.ended, r.path)
	switch {
	case d.missing:
		return nil
	case d.empty:
		return os.WriteFile(r.path, nil, 0o644)
	default:
		return os.WriteFile(r.path, d.Content, 0o644)
	}
}

func (r *recording) Abandon() {
	d := r.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.live {
		r.live = false
		d.open--
	}
	d.abandoned = append(d.abandoned, r.path)
}
