package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir must not be empty")
	}
	if c.RotationInterval <= 0 {
		problems = append(problems, fmt.Sprintf("rotation_interval must be positive, got %s", c.RotationInterval))
	}
	if c.PlaybackTick <= 0 {
		problems = append(problems, fmt.Sprintf("playback_tick must be positive, got %s", c.PlaybackTick))
	}
	switch c.Permission {
	case PermissionPrompt, PermissionGranted, PermissionDenied:
	default:
		problems = append(problems, fmt.Sprintf("permission %q is not one of prompt|granted|denied", c.Permission))
	}
	switch c.Audio.Backend {
	case BackendPortAudio, BackendSilence:
	default:
		problems = append(problems, fmt.Sprintf("audio.backend %q is not one of portaudio|silence", c.Audio.Backend))
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		problems = append(problems, fmt.Sprintf("audio.sample_rate %d outside 8000..192000", c.Audio.SampleRate))
	}
	if c.Audio.FramesPerBuffer <= 0 {
		problems = append(problems, "audio.frames_per_buffer must be positive")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		problems = append(problems, fmt.Sprintf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
