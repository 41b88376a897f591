package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/jwulff/memo/internal/audio/wav"
	xlog "github.com/jwulff/memo/internal/log"
)

// PortAudioDevice records the default input device into WAV files. Each
// file is written to a pending temp file and only appears at its final path
// once End succeeds.
type PortAudioDevice struct {
	Format          wav.Format
	FramesPerBuffer int

	logger zerolog.Logger
}

// NewPortAudioDevice returns a device for the given PCM layout.
func NewPortAudioDevice(format wav.Format, framesPerBuffer int) *PortAudioDevice {
	return &PortAudioDevice{
		Format:          format,
		FramesPerBuffer: framesPerBuffer,
		logger:          xlog.WithComponent("portaudio"),
	}
}

// Open prepares the pending output file. The stream is opened by Begin.
func (d *PortAudioDevice) Open(path string) (Recording, error) {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("pending file: %w", err)
	}
	w, err := wav.NewWriter(pending, d.Format)
	if err != nil {
		_ = pending.Cleanup()
		return nil, err
	}
	return &paRecording{
		dev:     d,
		pending: pending,
		w:       w,
		buf:     make([]int16, d.FramesPerBuffer*d.Format.Channels),
	}, nil
}

type paRecording struct {
	dev     *PortAudioDevice
	pending *renameio.PendingFile
	w       *wav.Writer
	buf     []int16

	stream  *portaudio.Stream
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	readErr error
}

func (r *paRecording) Begin() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(
		r.dev.Format.Channels, 0,
		float64(r.dev.Format.SampleRate),
		r.dev.FramesPerBuffer,
		r.buf,
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open mic: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start mic: %w", err)
	}

	r.stream = stream
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.capture()
	return nil
}

func (r *paRecording) capture() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		if err := r.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				r.dev.logger.Debug().Msg("input overflowed")
				continue
			}
			r.setErr(fmt.Errorf("read mic: %w", err))
			return
		}
		if err := r.w.WriteSamples(r.buf); err != nil {
			r.setErr(err)
			return
		}
	}
}

func (r *paRecording) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr == nil {
		r.readErr = err
	}
}

// halt stops the capture loop and releases PortAudio.
func (r *paRecording) halt() {
	if r.stream == nil {
		return
	}
	close(r.done)
	<-r.stopped
	r.stream.Stop()
	r.stream.Close()
	portaudio.Terminate()
	r.stream = nil
}

func (r *paRecording) End() error {
	r.halt()

	r.mu.Lock()
	readErr := r.readErr
	r.mu.Unlock()
	if readErr != nil {
		// Keep what was captured before the failure.
		r.dev.logger.Warn().Err(readErr).Msg("capture loop ended early")
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

func (r *paRecording) Abandon() {
	r.halt()
	_ = r.pending.Cleanup()
}
