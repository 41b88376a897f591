package playback

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	xlog "github.com/jwulff/memo/internal/log"
)

// PortAudioDevice plays decoded chunks on the default output.
type PortAudioDevice struct {
	FramesPerBuffer int

	logger zerolog.Logger

	mu      sync.Mutex
	clip    *clip
	stream  *portaudio.Stream
	done    chan struct{}
	stopped chan struct{}
}

// NewPortAudioDevice returns an output device writing framesPerBuffer
// frames per stream write.
func NewPortAudioDevice(framesPerBuffer int) *PortAudioDevice {
	return &PortAudioDevice{
		FramesPerBuffer: framesPerBuffer,
		logger:          xlog.WithComponent("portaudio"),
	}
}

func (d *PortAudioDevice) Load(path string) error {
	c, err := decode(path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.clip = &c
	d.mu.Unlock()
	return nil
}

func (d *PortAudioDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clip == nil {
		return ErrNotLoaded
	}
	if d.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, d.FramesPerBuffer*d.clip.format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, d.clip.format.Channels,
		float64(d.clip.format.SampleRate),
		d.FramesPerBuffer,
		buf,
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start speaker: %w", err)
	}

	d.stream = stream
	d.done = make(chan struct{})
	d.stopped = make(chan struct{})
	go d.write(stream, buf, d.clip.samples, d.done, d.stopped)
	return nil
}

func (d *PortAudioDevice) write(stream *portaudio.Stream, buf, samples []int16, done, stopped chan struct{}) {
	defer close(stopped)
	for len(samples) > 0 {
		select {
		case <-done:
			return
		default:
		}

		n := copy(buf, samples)
		// Zero-fill the tail of the last buffer.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		samples = samples[n:]

		if err := stream.Write(); err != nil {
			d.logger.Debug().Err(err).Msg("write audio")
		}
	}
}

func (d *PortAudioDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	close(d.done)
	<-d.stopped

	err := d.stream.Stop()
	d.stream.Close()
	portaudio.Terminate()
	d.stream = nil
	return err
}

func (d *PortAudioDevice) Release() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	d.clip = nil
	d.mu.Unlock()
	return nil
}
