package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Begin while a handle is still open.
	ErrAlreadyActive = errors.New("capture already active")

	// ErrDeviceUnavailable wraps any failure to acquire the input device.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Error records the failed driver operation and the chunk it targeted.
type Error struct {
	Op   string // "begin" or "end"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
