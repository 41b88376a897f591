package capture

import (
	"fmt"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jwulff/memo/internal/audio/wav"
)

// SilenceDevice needs no hardware. End writes silent PCM covering the time
// between Begin and End, so chunk files have realistic durations in
// headless runs.
type SilenceDevice struct {
	Format wav.Format
	Now    func() time.Time
}

// NewSilenceDevice returns a device using now (time.Now if nil).
func NewSilenceDevice(format wav.Format, now func() time.Time) *SilenceDevice {
	if now == nil {
		now = time.Now
	}
	return &SilenceDevice{Format: format, Now: now}
}

func (d *SilenceDevice) Open(path string) (Recording, error) {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("pending file: %w", err)
	}
	w, err := wav.NewWriter(pending, d.Format)
	if err != nil {
		_ = pending.Cleanup()
		return nil, err
	}
	return &silentRecording{dev: d, pending: pending, w: w}, nil
}

type silentRecording struct {
	dev     *SilenceDevice
	pending *renameio.PendingFile
	w       *wav.Writer
	began   time.Time
}

func (r *silentRecording) Begin() error {
	r.began = r.dev.Now()
	return nil
}

func (r *silentRecording) End() error {
	elapsed := r.dev.Now().Sub(r.began)
	frames := int64(elapsed) * int64(r.dev.Format.SampleRate) / int64(time.Second)
	samples := frames * int64(r.dev.Format.Channels)

	block := make([]int16, r.dev.Format.SampleRate*r.dev.Format.Channels)
	for samples > 0 {
		n := int64(len(block))
		if samples < n {
			n = samples
		}
		if err := r.w.WriteSamples(block[:n]); err != nil {
			_ = r.pending.Cleanup()
			return err
		}
		samples -= n
	}

	if err := r.w.Close(); err != nil {
		_ = r.pending.Cleanup()
		return err
	}
	if err := r.pending.CloseAtomicallyReplace(); err != nil {
		_ = r.pending.Cleanup()
		return fmt.Errorf("finalize chunk: %w", err)
	}
	return nil
}

func (r *silentRecording) Abandon() {
	_ = r.pending.Cleanup()
}
