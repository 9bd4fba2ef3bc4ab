package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LINESYNC_"

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(name string, dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, EnvPrefix, name, v)
		}
		*dst(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"ENGINE_COMMAND", stringVar(func(c *Config) *string { return &c.Engine.Command })},
	{"ENGINE_ARGS", func(c *Config, v string) error {
		c.Engine.Args = strings.Fields(v)
		return nil
	}},
	{"ENGINE_DIR", stringVar(func(c *Config) *string { return &c.Engine.Dir })},
	{"TRACE_PATH", stringVar(func(c *Config) *string { return &c.Transport.TracePath })},
	{"BLOCKING_TIMEOUT_MS", intVar("BLOCKING_TIMEOUT_MS", func(c *Config) *int { return &c.Cache.BlockingTimeoutMs })},
	{"RING_CAPACITY", intVar("RING_CAPACITY", func(c *Config) *int { return &c.Diagnostics.RingCapacity })},
	{"MAX_LINE_BYTES", intVar("MAX_LINE_BYTES", func(c *Config) *int { return &c.Diagnostics.MaxLineBytes })},
	{"CRASH_DIR", stringVar(func(c *Config) *string { return &c.Diagnostics.CrashDir })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_MODE", stringVar(func(c *Config) *string { return &c.Log.Mode })},
	{"LOG_FILE", stringVar(func(c *Config) *string { return &c.Log.File })},
	{"THEME", stringVar(func(c *Config) *string { return &c.View.Theme })},
	{"TAB_WIDTH", intVar("TAB_WIDTH", func(c *Config) *int { return &c.View.TabWidth })},
}

// applyEnv overrides cfg from LINESYNC_* variables found by lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return err
		}
	}
	return nil
}
