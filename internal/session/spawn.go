package session

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/config"
	"github.com/dshills/linesync/internal/diagnostics"
	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/logging"
	"github.com/dshills/linesync/internal/process"
	"github.com/dshills/linesync/internal/rpc"
	"github.com/dshills/linesync/internal/style"
)

// Engine is a session bound to a running engine process.
type Engine struct {
	*Session
	Process *process.Process
	cfg     config.Config
}

// Spawn starts the engine described by cfg and connects a session to it.
// The engine's stderr feeds a diagnostics recorder and its exit status is
// routed to Session.HandleExit.
func Spawn(ctx context.Context, cfg config.Config, log pslog.Logger) (*Engine, error) {
	log = logging.OrDiscard(log)

	proc, err := process.New(process.Spec{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
		Env:     cfg.Engine.Env,
		Dir:     cfg.Engine.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare engine: %w", err)
	}
	log = log.With("engine", proc.Name, "process", proc.ID)

	var trace *rpc.Trace
	if path := cfg.Transport.TracePath; path != "" {
		if trace, err = rpc.OpenTrace(path); err != nil {
			log.Warn("protocol trace disabled", "path", path, "error", err)
			trace = nil
		}
	}

	rec := diagnostics.NewRecorder(diagnostics.Options{
		Capacity:     cfg.Diagnostics.RingCapacity,
		MaxLineBytes: cfg.Diagnostics.MaxLineBytes,
		Dir:          cfg.Diagnostics.CrashDir,
		Name:         proc.Name,
		Logger:       log,
	})

	s := New(proc.Stdout, proc.Stdin, proc.Stdout, Options{
		Logger:   log,
		Cache:    cacheConfig(cfg),
		Styles:   style.NewTable(),
		Recorder: rec,
		Trace:    trace,
	})

	if err := proc.Start(); err != nil {
		trace.Close()
		_ = proc.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	go func() {
		if err := rec.Pump(proc.Stderr); err != nil {
			log.Warn("diagnostics stream failed", "error", err)
		}
	}()
	proc.OnExit(func(e process.Exit) { s.HandleExit(e) })

	if err := s.Start(ctx); err != nil {
		_ = proc.Kill()
		return nil, err
	}
	log.Info("engine started", "pid", proc.PID())
	return &Engine{Session: s, Process: proc, cfg: cfg}, nil
}

// Stop closes the engine's input, waits for it to exit and closes the
// session.
func (e *Engine) Stop() error {
	err := e.Process.Stop(e.cfg.Engine.ShutdownGrace())
	if cerr := e.Session.Close(); err == nil {
		err = cerr
	}
	return err
}

func cacheConfig(cfg config.Config) linecache.Config {
	return linecache.Config{BlockingTimeout: cfg.Cache.BlockingTimeout()}
}
