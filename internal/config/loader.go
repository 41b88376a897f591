package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/memo/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMO_"

// Load resolves the configuration. path may be empty, in which case only
// defaults, .env and the environment are consulted. envFile may be empty to
// use ".env" in the working directory; a missing .env is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	if err := mergeEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and means "no overrides".
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func mergeEnv(cfg *Config, lookup lookupFunc) error {
	logger := log.WithComponent("config")

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			logger.Debug().Str("key", EnvPrefix+key).Str("source", "environment").Msg("using environment variable")
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("DATA_DIR", &cfg.DataDir)
	str("DB_PATH", &cfg.DBPath)
	str("SOCKET_PATH", &cfg.SocketPath)
	str("RECORDINGS_DIR", &cfg.RecordingsDir)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("PERMISSION", &cfg.Permission)
	str("AUDIO_BACKEND", &cfg.Audio.Backend)

	if err := dur("ROTATION_INTERVAL", &cfg.RotationInterval); err != nil {
		return err
	}
	if err := dur("PLAYBACK_TICK", &cfg.PlaybackTick); err != nil {
		return err
	}
	if err := num("AUDIO_SAMPLE_RATE", &cfg.Audio.SampleRate); err != nil {
		return err
	}
	if err := num("AUDIO_FRAMES_PER_BUFFER", &cfg.Audio.FramesPerBuffer); err != nil {
		return err
	}
	return num("AUDIO_CHANNELS", &cfg.Audio.Channels)
}
