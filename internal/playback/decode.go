package playback

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"github.com/jwulff/memo/internal/audio/wav"
)

// clip is decoded, interleaved 16-bit PCM ready for output.
type clip struct {
	format  wav.Format
	samples []int16
}

// decode loads a chunk file by extension.
func decode(path string) (clip, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		info, samples, err := wav.ReadPCM(path)
		if err != nil {
			return clip{}, err
		}
		return clip{format: info.Format, samples: samples}, nil
	case ".mp3":
		return decodeMP3(path)
	default:
		return clip{}, fmt.Errorf("unsupported audio file %s", filepath.Base(path))
	}
}

// decodeMP3 reads the whole file. go-mp3 always yields 16-bit stereo.
func decodeMP3(path string) (clip, error) {
	f, err := os.Open(path) // #nosec G304 -- chunk paths come from the store
	if err != nil {
		return clip{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return clip{}, fmt.Errorf("mp3 decode: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return clip{}, fmt.Errorf("mp3 read: %w", err)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return clip{format: wav.Format{SampleRate: dec.SampleRate(), Channels: 2}, samples: samples}, nil
}
