// Package config loads linesync settings from a TOML or YAML file with
// environment overrides, and watches the file for live changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/linesync/internal/logging"
)

// Errors returned by Load and Validate.
var (
	ErrInvalid           = errors.New("invalid config")
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Config is the complete configuration.
type Config struct {
	Engine      EngineConfig      `toml:"engine" yaml:"engine"`
	Transport   TransportConfig   `toml:"transport" yaml:"transport"`
	Cache       CacheConfig       `toml:"cache" yaml:"cache"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" yaml:"diagnostics"`
	Log         LogConfig         `toml:"log" yaml:"log"`
	View        ViewConfig        `toml:"view" yaml:"view"`
}

// EngineConfig describes how to launch the engine.
type EngineConfig struct {
	Command         string   `toml:"command" yaml:"command"`
	Args            []string `toml:"args" yaml:"args"`
	Env             []string `toml:"env" yaml:"env"`
	Dir             string   `toml:"dir" yaml:"dir"`
	ShutdownGraceMs int      `toml:"shutdown_grace_ms" yaml:"shutdown_grace_ms"`
}

// ShutdownGrace is how long the engine gets to exit after stdin closes.
func (e EngineConfig) ShutdownGrace() time.Duration {
	return time.Duration(e.ShutdownGraceMs) * time.Millisecond
}

// TransportConfig configures the message channel.
type TransportConfig struct {
	// TracePath, when set, mirrors every message to this file.
	TracePath string `toml:"trace_path" yaml:"trace_path"`
}

// CacheConfig configures the line caches.
type CacheConfig struct {
	BlockingTimeoutMs int `toml:"blocking_timeout_ms" yaml:"blocking_timeout_ms"`
}

// BlockingTimeout is the longest a renderer read waits for missing lines.
func (c CacheConfig) BlockingTimeout() time.Duration {
	return time.Duration(c.BlockingTimeoutMs) * time.Millisecond
}

// DiagnosticsConfig configures crash recording.
type DiagnosticsConfig struct {
	RingCapacity int    `toml:"ring_capacity" yaml:"ring_capacity"`
	MaxLineBytes int    `toml:"max_line_bytes" yaml:"max_line_bytes"`
	CrashDir     string `toml:"crash_dir" yaml:"crash_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	Mode  string `toml:"mode" yaml:"mode"`
	Color bool   `toml:"color" yaml:"color"`
	// File receives log output. Empty means stderr.
	File string `toml:"file" yaml:"file"`
}

// Options converts the section into logging options.
func (l LogConfig) Options() logging.Options {
	return logging.Options{Level: l.Level, Mode: logging.Mode(l.Mode), Color: l.Color}
}

// ViewConfig configures the terminal view.
type ViewConfig struct {
	Theme    string `toml:"theme" yaml:"theme"`
	TabWidth int    `toml:"tab_width" yaml:"tab_width"`
}

// Default returns the built-in configuration.
func Default() Config {
	crashDir := filepath.Join(os.TempDir(), "linesync", "crashes")
	if dir, err := os.UserCacheDir(); err == nil {
		crashDir = filepath.Join(dir, "linesync", "crashes")
	}
	return Config{
		Engine: EngineConfig{
			Command:         "xi-core",
			ShutdownGraceMs: 2000,
		},
		Cache: CacheConfig{BlockingTimeoutMs: 30},
		Diagnostics: DiagnosticsConfig{
			RingCapacity: 256,
			MaxLineBytes: 4096,
			CrashDir:     crashDir,
		},
		Log: LogConfig{
			Level: "info",
			Mode:  string(logging.ModeStructured),
		},
		View: ViewConfig{TabWidth: 4},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Engine.Command == "":
		return fmt.Errorf("%w: engine.command is empty", ErrInvalid)
	case c.Engine.ShutdownGraceMs < 0:
		return fmt.Errorf("%w: engine.shutdown_grace_ms must not be negative", ErrInvalid)
	case c.Cache.BlockingTimeoutMs < 0:
		return fmt.Errorf("%w: cache.blocking_timeout_ms must not be negative", ErrInvalid)
	case c.Diagnostics.RingCapacity < 1:
		return fmt.Errorf("%w: diagnostics.ring_capacity must be positive", ErrInvalid)
	case c.Diagnostics.MaxLineBytes < 1:
		return fmt.Errorf("%w: diagnostics.max_line_bytes must be positive", ErrInvalid)
	case !logging.ValidLevel(c.Log.Level):
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	case c.Log.Mode != string(logging.ModeStructured) && c.Log.Mode != string(logging.ModeConsole):
		return fmt.Errorf("%w: log.mode %q", ErrInvalid, c.Log.Mode)
	case c.View.TabWidth < 1 || c.View.TabWidth > 16:
		return fmt.Errorf("%w: view.tab_width %d out of range [1,16]", ErrInvalid, c.View.TabWidth)
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error; an empty path skips
// the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", "":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return nil
}
