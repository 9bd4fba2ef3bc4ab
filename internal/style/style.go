// Package style holds the style definitions the engine sends with def_style.
// A Table is injected into whichever component resolves style ids.
package style

import (
	"sync"

	"github.com/dshills/linesync/internal/protocol"
)

// Reserved style ids.
const (
	// Selection is the style id the engine uses for selected text.
	Selection = 0
	// FindResult is the style id the engine uses for find matches.
	FindResult = 1
)

// BoldWeight is the font weight at and above which text is drawn bold.
const BoldWeight = 700

// Color is an ARGB color.
type Color uint32

// RGB returns the red, green and blue components.
func (c Color) RGB() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Alpha returns the alpha component.
func (c Color) Alpha() uint8 {
	return uint8(c >> 24)
}

// Style is one resolved style. A nil color means "inherit".
type Style struct {
	Fg        *Color
	Bg        *Color
	Weight    int
	Italic    bool
	Underline bool
}

// Bold reports whether the weight calls for bold text.
func (s Style) Bold() bool {
	return s.Weight >= BoldWeight
}

// FromDef converts a def_style notification.
func FromDef(d protocol.DefStyle) Style {
	s := Style{Weight: d.Weight, Italic: d.Italic, Underline: d.Underline}
	if d.FgColor != nil {
		c := Color(*d.FgColor)
		s.Fg = &c
	}
	if d.BgColor != nil {
		c := Color(*d.BgColor)
		s.Bg = &c
	}
	return s
}

// Table maps style ids to styles. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	styles   map[int]Style
	theme    string
	revision uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{styles: make(map[int]Style)}
}

// Define adds or replaces a style.
func (t *Table) Define(d protocol.DefStyle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.styles[d.ID] = FromDef(d)
	t.revision++
}

// Lookup returns the style for id.
func (t *Table) Lookup(id int) (Style, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.styles[id]
	return s, ok
}

// Len returns the number of defined styles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.styles)
}

// Theme returns the active theme name.
func (t *Table) Theme() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.theme
}

// SetTheme records the active theme. Styles defined under the previous theme
// are dropped, since the engine redefines them after a theme change.
func (t *Table) SetTheme(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == t.theme {
		return
	}
	t.theme = name
	clear(t.styles)
	t.revision++
}

// Revision increments whenever a definition or the theme changes. Renderers
// compare it to decide whether cached style conversions are stale.
func (t *Table) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}
