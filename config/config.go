// Package config holds the user configuration of an Overdrive game. It is
// stored as TOML and may be reloaded while the engine runs through a Watcher.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
)

// UserConfig is the user configuration of a game. It may be serialised to
// TOML and converted to an engine configuration with EngineConfig.
type UserConfig struct {
	// Engine holds settings of the task processor and system lifecycle.
	Engine struct {
		// Workers is the number of background workers. Set to 0 to use one
		// worker per CPU.
		Workers int
		// PollInterval is how long the frame loop sleeps when it has no work,
		// for example "1ms". An empty value or "0s" makes it busy-poll.
		PollInterval string
		// LockOSThread pins the frame loop to the main OS thread.
		LockOSThread bool
		// OrderByDependencies initializes systems in dependency order rather
		// than registration order.
		OrderByDependencies bool
		// StrictInit aborts startup when a system fails to initialize.
		StrictInit bool
	}
	Log struct {
		// Level is one of "debug", "info", "warn" or "error".
		Level string
		// Format is either "text" or "json".
		Format string
		// File is the path logs are appended to. Terminal games draw over
		// stderr, so an empty value discards logs.
		File string
	}
	Metrics struct {
		// Enabled serves Prometheus metrics on Address.
		Enabled bool
		// Address is the listen address of the metrics endpoint.
		Address string
		// PollInterval is how often processor and bus snapshots are exported.
		PollInterval string
	}
	Video struct {
		// FrameRate is the number of frames presented per second.
		FrameRate int
	}
	Audio struct {
		// Enabled opens the speaker. When false tones are mixed but never
		// played.
		Enabled bool
		// SampleRate of the speaker in Hz.
		SampleRate int
		// Volume is a relative volume, 0 is unchanged and every unit halves
		// or doubles the amplitude.
		Volume float64
	}
	Game struct {
		// Lives is the number of invaders that may reach the bottom.
		Lives int
		// SpawnInterval is the time between two invaders, for example "1.5s".
		SpawnInterval string
		// EnemySpeed is the descent speed of invaders in rows per second.
		EnemySpeed float64
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Engine.Workers = 0
	c.Engine.PollInterval = "1ms"
	c.Engine.LockOSThread = true
	c.Engine.OrderByDependencies = true
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.File = "overdrive.log"
	c.Metrics.Enabled = false
	c.Metrics.Address = "localhost:9464"
	c.Metrics.PollInterval = "1s"
	c.Video.FrameRate = 60
	c.Audio.Enabled = true
	c.Audio.SampleRate = 44100
	c.Audio.Volume = -1
	c.Game.Lives = 3
	c.Game.SpawnInterval = "1.5s"
	c.Game.EnemySpeed = 2
	return c
}

// Load reads the configuration at path. A missing file is created with the
// default configuration, which is then returned.
func Load(path string) (UserConfig, error) {
	c := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, Save(path, c)
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Save writes c to path, creating its directory if needed.
func Save(path string, c UserConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	encoded, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EngineConfig converts the Engine section to an overdrive.Config logging
// through log. An error is returned if PollInterval is not a valid duration.
func (uc UserConfig) EngineConfig(log *slog.Logger) (overdrive.Config, error) {
	poll, err := parseDuration(uc.Engine.PollInterval)
	if err != nil {
		return overdrive.Config{}, fmt.Errorf("engine poll interval: %w", err)
	}
	conf := overdrive.DefaultConfig()
	conf.Workers = uc.Engine.Workers
	conf.PollInterval = poll
	conf.LockOSThread = uc.Engine.LockOSThread
	conf.OrderByDependencies = uc.Engine.OrderByDependencies
	conf.StrictInit = uc.Engine.StrictInit
	conf.Logger = core.NewSlogLogger(log)
	return conf, nil
}

// MetricsPollInterval returns the parsed Metrics.PollInterval.
func (uc UserConfig) MetricsPollInterval() (time.Duration, error) {
	return parseDuration(uc.Metrics.PollInterval)
}

// SpawnInterval returns the parsed Game.SpawnInterval.
func (uc UserConfig) SpawnInterval() (time.Duration, error) {
	return parseDuration(uc.Game.SpawnInterval)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall back to
// info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a slog.Logger writing to w according to the Log section.
// The returned LevelVar may be changed later to adjust the level in place.
func (uc UserConfig) NewLogger(w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(uc.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(uc.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), level
}

// OpenLog opens the Log.File for appending. An empty path returns
// io.Discard.
func (uc UserConfig) OpenLog() (io.WriteCloser, error) {
	if strings.TrimSpace(uc.Log.File) == "" {
		return nopCloser{io.Discard}, nil
	}
	f, err := os.OpenFile(uc.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
