// Package session routes engine traffic to per-view line caches and exposes
// the edit-issuing API. A Session is the rpc.Handler for one engine
// connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/diagnostics"
	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/logging"
	"github.com/dshills/linesync/internal/protocol"
	"github.com/dshills/linesync/internal/rpc"
	"github.com/dshills/linesync/internal/style"
)

// exitDrainTimeout bounds how long HandleExit waits for the reader to
// dispatch the engine's final output.
const exitDrainTimeout = 2 * time.Second

// Options configures a Session.
type Options struct {
	Logger pslog.Logger
	// Cache configures every view's line cache.
	Cache linecache.Config
	// Styles receives def_style definitions. A fresh table is used if nil.
	Styles *style.Table
	// Measurer answers measure_width requests. Cell widths are used if nil.
	Measurer Measurer
	// Recorder persists diagnostics on abnormal engine exit. Optional.
	Recorder *diagnostics.Recorder
	// Trace mirrors every message. Optional.
	Trace *rpc.Trace
}

// Session is the client half of one engine connection.
type Session struct {
	conn     *rpc.Conn
	log      pslog.Logger
	styles   *style.Table
	measurer Measurer
	recorder *diagnostics.Recorder
	trace    *rpc.Trace

	mu          sync.Mutex
	cacheConfig linecache.Config
	views       map[string]*View
	defaultView string
	themes      []string
	listeners   map[int]Listener
	nextLID     int

	exitOnce  sync.Once
	exitDrain time.Duration
}

// New creates a session speaking over r and w. Closing c must unblock reads
// from r.
func New(r io.Reader, w io.Writer, c io.Closer, opts Options) *Session {
	log := logging.WithComponent(opts.Logger, "session")
	s := &Session{
		log:         log,
		styles:      opts.Styles,
		measurer:    opts.Measurer,
		recorder:    opts.Recorder,
		trace:       opts.Trace,
		cacheConfig: opts.Cache,
		views:       make(map[string]*View),
		listeners:   make(map[int]Listener),
		exitDrain:   exitDrainTimeout,
	}
	if s.styles == nil {
		s.styles = style.NewTable()
	}
	if s.measurer == nil {
		s.measurer = CellMeasurer{}
	}
	s.conn = rpc.NewConn(r, w, c, rpc.Options{Logger: opts.Logger, Trace: opts.Trace})
	return s
}

// Start begins reading from the engine.
func (s *Session) Start(ctx context.Context) error {
	return s.conn.Start(ctx, s)
}

// Conn returns the underlying connection.
func (s *Session) Conn() *rpc.Conn { return s.conn }

// Styles returns the style table fed by def_style.
func (s *Session) Styles() *style.Table { return s.styles }

// Done is closed when the connection's reader has stopped.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

// Close closes the connection and the trace.
func (s *Session) Close() error {
	err := s.conn.Close()
	if terr := s.trace.Close(); terr != nil && err == nil {
		err = terr
	}
	return err
}

// Subscribe registers fn for every event and returns a function that
// removes it.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextLID
	s.nextLID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = s.listeners[id]
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// View returns the view with id. An empty id selects the default view, the
// first one opened.
func (s *Session) View(id string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.defaultView
	}
	v, ok := s.views[id]
	return v, ok
}

// Views returns the open view ids, sorted.
func (s *Session) Views() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Themes returns the theme names last announced by the engine.
func (s *Session) Themes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.themes...)
}

// viewFor returns the view with id, creating it if needed. Updates for a
// view can arrive before the new_view reply has been handled by its caller,
// so views are created on first sight.
func (s *Session) viewFor(id string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.defaultView
	}
	if v, ok := s.views[id]; ok {
		return v
	}
	v := newView(id, linecache.New(s.cacheConfig, logging.WithView(s.log, id)))
	s.views[id] = v
	if len(s.views) == 1 {
		s.defaultView = id
	}
	return v
}

func (s *Session) dropView(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, id)
	if s.defaultView != id {
		return
	}
	s.defaultView = ""
	for other := range s.views {
		if s.defaultView == "" || other < s.defaultView {
			s.defaultView = other
		}
	}
}

func (s *Session) allViews() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// flushAll clears every cache's associated data and reports the flushes.
func (s *Session) flushAll() {
	for _, v := range s.allViews() {
		v.cache.FlushAssociatedData()
		s.emit(Event{Kind: EventFlush, ViewID: v.id, Revision: v.cache.Revision()})
	}
}

// HandleNotification implements rpc.Handler.
func (s *Session) HandleNotification(method string, params json.RawMessage) {
	n, err := protocol.DecodeNotification(method, params)
	if err != nil {
		s.log.Warn("dropping notification", "method", method, "error", err)
		return
	}

	switch n := n.(type) {
	case protocol.Update:
		v := s.viewFor(n.ViewID)
		inval, err := v.cache.Apply(n.Delta)
		s.emit(Event{
			Kind:     EventUpdate,
			ViewID:   v.id,
			Invalid:  inval,
			Revision: v.cache.Revision(),
			Err:      err,
		})

	case protocol.ScrollTo:
		v := s.viewFor(n.ViewID)
		v.setScroll(n)
		s.emit(Event{Kind: EventScroll, ViewID: v.id})

	case protocol.DefStyle:
		s.styles.Define(n)
		s.emit(Event{Kind: EventStyles})

	case protocol.ThemeChanged:
		s.log.Info("theme changed", "theme", n.Name)
		s.styles.SetTheme(n.Name)
		s.emit(Event{Kind: EventStyles})
		s.flushAll()

	case protocol.AvailableThemes:
		s.mu.Lock()
		s.themes = append([]string(nil), n.Themes...)
		s.mu.Unlock()
		s.emit(Event{Kind: EventThemes})

	case protocol.ConfigChanged:
		v := s.viewFor(n.ViewID)
		if v.mergeConfig(n.Changes) {
			v.cache.FlushAssociatedData()
			s.emit(Event{Kind: EventFlush, ViewID: v.id, Revision: v.cache.Revision()})
		}
		s.emit(Event{Kind: EventViewState, ViewID: v.id})

	case protocol.LanguageChanged:
		v := s.viewFor(n.ViewID)
		v.setLanguage(n.LanguageID)
		s.emit(Event{Kind: EventViewState, ViewID: v.id})

	case protocol.PluginStarted:
		v := s.viewFor(n.ViewID)
		v.setPlugin(n.Plugin, true)
		s.emit(Event{Kind: EventViewState, ViewID: v.id})

	case protocol.PluginStopped:
		v := s.viewFor(n.ViewID)
		v.setPlugin(n.Plugin, false)
		if n.Code != 0 {
			s.log.Warn("plugin stopped", "view", v.id, "plugin", n.Plugin, "code", n.Code)
		}
		s.emit(Event{Kind: EventViewState, ViewID: v.id})

	case protocol.AvailablePlugins:
		v := s.viewFor(n.ViewID)
		v.setPlugins(n.Plugins)
		s.emit(Event{Kind: EventViewState, ViewID: v.id})

	case protocol.Alert:
		s.log.Warn("engine alert", "message", n.Msg)
		s.emit(Event{Kind: EventAlert, Message: n.Msg})

	case protocol.Unknown:
		s.log.Warn("unknown notification", "method", n.Name)
	}
}

// HandleRequest implements rpc.Handler.
func (s *Session) HandleRequest(method string, params json.RawMessage) (any, error) {
	req, err := protocol.DecodeRequest(method, params)
	if err != nil {
		return nil, &rpc.RemoteError{Code: rpc.CodeInvalidParams, Message: err.Error()}
	}

	switch req := req.(type) {
	case protocol.MeasureWidth:
		out := make([][]float64, len(req.Items))
		for i, item := range req.Items {
			out[i] = s.measurer.Measure(item)
		}
		return out, nil
	default:
		s.log.Warn("unknown request", "method", method)
		return nil, rpc.ErrMethodNotFound
	}
}

// HandleExit reacts to the engine terminating. It first lets the reader
// dispatch whatever the engine wrote before exiting, so replies in the final
// chunk still reach their callers. Then the diagnostics window is persisted
// if the exit was abnormal, every remaining call fails with rpc.ErrClosed and
// subscribers receive EventExit. Only the first call has any effect.
func (s *Session) HandleExit(status diagnostics.ExitStatus) {
	s.exitOnce.Do(func() {
		timer := time.NewTimer(s.exitDrain)
		select {
		case <-s.conn.Done():
		case <-timer.C:
			s.log.Warn("engine output not drained before exit", "timeout", s.exitDrain)
		}
		timer.Stop()

		var crashLog string
		if s.recorder != nil {
			crashLog = s.recorder.HandleExit(status)
		}
		if status.Success() {
			s.log.Info("engine exited", "status", status.String())
		} else {
			s.log.Error("engine exited abnormally", "status", status.String(), "crash_log", crashLog)
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.log.Debug("close connection", "error", err)
		}
		s.emit(Event{Kind: EventExit, Exit: status, CrashLog: crashLog})
	})
}
