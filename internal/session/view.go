package session

import (
	"maps"
	"sort"
	"sync"

	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/protocol"
)

// View is the client side of one engine view: its line cache plus the
// per-view state the engine reports through notifications.
type View struct {
	id    string
	cache *linecache.Cache

	mu       sync.Mutex
	scroll   *protocol.ScrollTo
	language string
	plugins  map[string]bool
	config   map[string]any
}

func newView(id string, cache *linecache.Cache) *View {
	return &View{
		id:      id,
		cache:   cache,
		plugins: make(map[string]bool),
		config:  make(map[string]any),
	}
}

// ID returns the engine's view id.
func (v *View) ID() string { return v.id }

// Cache returns the view's line cache.
func (v *View) Cache() *linecache.Cache { return v.cache }

// ScrollHint returns the last position the engine asked to bring into view.
func (v *View) ScrollHint() (line, col int, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.scroll == nil {
		return 0, 0, false
	}
	return v.scroll.Line, v.scroll.Col, true
}

// Language returns the view's language id.
func (v *View) Language() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.language
}

// Plugins returns the known plugins for the view, sorted by name.
func (v *View) Plugins() []protocol.PluginInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]protocol.PluginInfo, 0, len(v.plugins))
	for name, running := range v.plugins {
		out = append(out, protocol.PluginInfo{Name: name, Running: running})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config returns a copy of the view settings reported by the engine.
func (v *View) Config() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return maps.Clone(v.config)
}

func (v *View) setScroll(s protocol.ScrollTo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scroll = &s
}

func (v *View) setLanguage(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.language = id
}

func (v *View) setPlugin(name string, running bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plugins[name] = running
}

func (v *View) setPlugins(list []protocol.PluginInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.plugins)
	for _, p := range list {
		v.plugins[p.Name] = p.Running
	}
}

// mergeConfig applies changed settings and reports whether any of them
// affects how lines are laid out.
func (v *View) mergeConfig(changes map[string]any) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	layout := false
	for k, val := range changes {
		v.config[k] = val
		switch k {
		case "tab_size", "font_face", "font_size", "word_wrap", "wrap_width":
			layout = true
		}
	}
	return layout
}
