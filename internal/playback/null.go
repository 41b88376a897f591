package playback

import (
	"fmt"
	"os"
	"sync"
)

// NullDevice accepts any existing file and produces no sound.
type NullDevice struct {
	mu     sync.Mutex
	loaded string
}

func (d *NullDevice) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	d.mu.Lock()
	d.loaded = path
	d.mu.Unlock()
	return nil
}

func (d *NullDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded == "" {
		return ErrNotLoaded
	}
	return nil
}

func (d *NullDevice) Stop() error { return nil }

func (d *NullDevice) Release() error {
	d.mu.Lock()
	d.loaded = ""
	d.mu.Unlock()
	return nil
}
