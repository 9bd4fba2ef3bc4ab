// Package logging builds the structured loggers shared by every component.
// Components receive a pslog.Logger by injection and annotate it with
// WithComponent; nothing reaches for a global logger.
package logging

import (
	"context"
	"io"
	"strings"

	"pkt.systems/pslog"
)

// Mode selects the log output encoding.
type Mode string

const (
	// ModeStructured writes one JSON object per line.
	ModeStructured Mode = "structured"
	// ModeConsole writes human-readable lines.
	ModeConsole Mode = "console"
)

// Options configures New.
type Options struct {
	// Level is the minimum level: trace, debug, info, warn or error.
	Level string
	// Mode is the output encoding.
	Mode Mode
	// Color enables ANSI colors in console mode.
	Color bool
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) pslog.Logger {
	if w == nil {
		w = io.Discard
	}
	po := pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       !opts.Color,
		VerboseFields: true,
	}
	if opts.Mode == ModeConsole {
		po.Mode = pslog.ModeConsole
	}
	switch strings.ToLower(strings.TrimSpace(opts.Level)) {
	case "trace":
		po.MinLevel = pslog.TraceLevel
	case "debug":
		po.MinLevel = pslog.DebugLevel
	case "warn", "warning":
		po.MinLevel = pslog.WarnLevel
	case "error":
		po.MinLevel = pslog.ErrorLevel
	default:
		po.MinLevel = pslog.InfoLevel
	}
	return pslog.NewWithOptions(w, po)
}

// ValidLevel reports whether s names a supported level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Discard returns a logger that drops everything.
func Discard() pslog.Logger {
	return New(io.Discard, Options{Level: "error"})
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log pslog.Logger) pslog.Logger {
	if log == nil {
		return Discard()
	}
	return log
}

// WithComponent annotates a logger with the component name.
func WithComponent(log pslog.Logger, component string) pslog.Logger {
	return OrDiscard(log).With("component", component)
}

// WithView annotates a logger with a view id when present.
func WithView(log pslog.Logger, viewID string) pslog.Logger {
	log = OrDiscard(log)
	if viewID != "" {
		log = log.With("view", viewID)
	}
	return log
}

// FromContext returns the logger bound to ctx.
func FromContext(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// IntoContext binds log to ctx.
func IntoContext(ctx context.Context, log pslog.Logger) context.Context {
	return pslog.ContextWithLogger(ctx, log)
}
