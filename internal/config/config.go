// Package config loads memo's runtime configuration from defaults, an
// optional YAML file, an optional .env file and MEMO_* environment variables,
// in that order of precedence (later wins).
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Permission modes.
const (
	PermissionPrompt  = "prompt"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Audio backends.
const (
	BackendPortAudio = "portaudio"
	BackendSilence   = "silence"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DataDir          string        `yaml:"data_dir"`
	DBPath           string        `yaml:"db_path"`
	SocketPath       string        `yaml:"socket_path"`
	RecordingsDir    string        `yaml:"recordings_dir"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	PlaybackTick     time.Duration `yaml:"playback_tick"`
	LogLevel         string        `yaml:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Permission       string        `yaml:"permission"`
	Audio            AudioConfig   `yaml:"audio"`
}

// AudioConfig selects and tunes the audio backend.
type AudioConfig struct {
	Backend         string `yaml:"backend"`
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	Channels        int    `yaml:"channels"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "memo")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memo")
}

// Default returns a configuration with every field set to its default.
// Paths derived from the data dir are left empty and filled by resolvePaths.
func Default() Config {
	return Config{
		DataDir:          DefaultDataDir(),
		RotationInterval: 30 * time.Second,
		PlaybackTick:     time.Second,
		LogLevel:         "info",
		Permission:       PermissionPrompt,
		Audio: AudioConfig{
			Backend:         BackendPortAudio,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			Channels:        1,
		},
	}
}

// resolvePaths fills derived paths that were not set explicitly.
func (c *Config) resolvePaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "memo.sqlite")
	}
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.DataDir, "memo.sock")
	}
	if c.RecordingsDir == "" {
		c.RecordingsDir = filepath.Join(c.DataDir, "recordings")
	}
}

// LogPath is where the TUI writes its log; it must never log to the terminal
// it draws on.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "memo-tui.log")
}
