// Package chunkfile names the on-disk targets for recording chunks.
package chunkfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix and Ext frame every chunk file name:
// REC_<yyyyMMdd_HHmmssSSS>_<8 hex>.wav
const (
	Prefix = "REC_"
	Ext    = ".wav"
)

// Allocator produces a fresh, uniquely named path per chunk inside Dir.
// It never creates the file itself; the capture device does that.
type Allocator struct {
	Dir string
	Now func() time.Time
}

// New returns an allocator for dir using the wall clock.
func New(dir string) *Allocator {
	return &Allocator{Dir: dir, Now: time.Now}
}

// Next returns the path for the next chunk, creating Dir if needed.
func (a *Allocator) Next() (string, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return filepath.Join(a.Dir, Name(now(), uuid.New())), nil
}

// Name formats a chunk file name for t, disambiguated by id.
func Name(t time.Time, id uuid.UUID) string {
	stamp := fmt.Sprintf("%s%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]
	return Prefix + stamp + "_" + suffix + Ext
}

// Usable reports whether path holds a finalized chunk worth keeping: it
// exists, is a regular file and is not empty.
func Usable(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), info.Size() > 0
}
