package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/config"
	"github.com/dshills/linesync/internal/logging"
	"github.com/dshills/linesync/internal/session"
	"github.com/dshills/linesync/internal/termview"
)

type runFlags struct {
	configPath string
	engine     string
	tracePath  string
	theme      string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Start the engine and edit a file in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			return runEditor(cmd.Context(), flags, file)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "config file (TOML or YAML)")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "engine command, overrides engine.command")
	cmd.Flags().StringVar(&flags.tracePath, "trace", "", "protocol trace file, overrides transport.trace_path")
	cmd.Flags().StringVar(&flags.theme, "theme", "", "theme name, overrides view.theme")
	return cmd
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "linesync", "config.toml")
}

func loadConfig(flags runFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags.apply(&cfg)
	return cfg, cfg.Validate()
}

// apply overrides cfg with the flags that were set.
func (f runFlags) apply(cfg *config.Config) {
	if f.engine != "" {
		cfg.Engine.Command = f.engine
	}
	if f.tracePath != "" {
		cfg.Transport.TracePath = f.tracePath
	}
	if f.theme != "" {
		cfg.View.Theme = f.theme
	}
}

// openLog returns the log writer. The terminal belongs to the view while it
// runs, so logs go to a file.
func openLog(cfg config.Config) (io.WriteCloser, error) {
	path := cfg.Log.File
	if path == "" {
		path = filepath.Join(os.TempDir(), "linesync.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func runEditor(ctx context.Context, flags runFlags, file string) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logFile, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := logging.New(logFile, cfg.Log.Options())
	ctx = logging.IntoContext(ctx, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng, err := session.Spawn(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			log.Warn("engine stop", "error", err)
		}
	}()

	if err := eng.ClientStarted(filepath.Dir(flags.configPath), ""); err != nil {
		return fmt.Errorf("client_started: %w", err)
	}
	if cfg.View.Theme != "" {
		if err := eng.SetTheme(cfg.View.Theme); err != nil {
			return fmt.Errorf("set_theme: %w", err)
		}
	}
	view, err := eng.NewView(ctx, file)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer screen.Fini()
	screen.EnableMouse()

	tv := termview.New(screen, view.Cache(), view.ID(), eng.Session, termview.Options{
		Styles:   eng.Styles(),
		TabWidth: cfg.View.TabWidth,
		SavePath: file,
		Logger:   log,
	})

	redraw := make(chan struct{}, 1)
	poke := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}
	exitc := make(chan error, 1)
	unsubscribe := eng.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.EventUpdate, session.EventFlush:
			if ev.ViewID == view.ID() {
				poke()
			}
		case session.EventStyles:
			poke()
		case session.EventScroll:
			if ev.ViewID == view.ID() {
				if line, _, ok := view.ScrollHint(); ok {
					tv.EnsureVisible(line)
					poke()
				}
			}
		case session.EventExit:
			if !ev.Exit.Success() {
				err := fmt.Errorf("engine %s", ev.Exit)
				if ev.CrashLog != "" {
					err = fmt.Errorf("%w (crash log %s)", err, ev.CrashLog)
				}
				exitc <- err
			}
			cancel()
		}
	})
	defer unsubscribe()

	if flags.configPath != "" {
		if err := watchConfig(ctx, flags, cfg, eng.Session, tv, poke, log); err != nil {
			log.Warn("config live reload disabled", "error", err)
		}
	}

	err = tv.Run(ctx, redraw)
	if errors.Is(err, context.Canceled) {
		select {
		case err = <-exitc:
		default:
			err = nil
		}
	}
	return err
}

func watchConfig(ctx context.Context, flags runFlags, cfg config.Config, s *session.Session, tv *termview.View, poke func(), log pslog.Logger) error {
	w, err := config.NewWatcher(flags.configPath, cfg, config.DefaultDebounce, log)
	if err != nil {
		return err
	}
	w.OnChange(func(old, cur config.Config) {
		flags.apply(&old)
		flags.apply(&cur)
		s.ApplyConfig(old, cur)
		tv.SetTabWidth(cur.View.TabWidth)
		poke()
	})
	w.Start(ctx)
	go func() {
		<-ctx.Done()
		w.Close()
	}()
	return nil
}
