package linecache

import (
	"sync/atomic"

	"github.com/dshills/linesync/internal/protocol"
)

// StyleSpan applies a style id to the half-open byte range [Start, End) of a
// line's text.
type StyleSpan struct {
	Start   int
	End     int
	StyleID int
}

// Line is one cached row of the document.
//
// Text, Cursors, Styles and Number never change once the line is built; an
// update op replaces the whole Line. The associated-data slot belongs to the
// renderer and may be set at any time; the cache only ever clears it.
type Line struct {
	Text    string
	Cursors []int
	Styles  []StyleSpan
	// Number is the gutter line number reported by the engine, or zero.
	Number int

	assoc atomic.Pointer[any]
}

// NewLine builds a Line from its wire form.
func NewLine(j protocol.LineJSON) *Line {
	l := &Line{
		Cursors: j.Cursor,
		Styles:  decodeStyles(j.Styles),
		Number:  j.Number,
	}
	if j.Text != nil {
		l.Text = *j.Text
	}
	return l
}

// TextLine builds a Line holding only text.
func TextLine(text string) *Line {
	return &Line{Text: text}
}

// withUpdate returns a new Line keeping this line's text unless j carries
// new text, and taking cursors and styles from j. Renderer data is not
// carried over since styles may have changed.
func (l *Line) withUpdate(j protocol.LineJSON) *Line {
	nl := NewLine(j)
	if j.Text == nil {
		nl.Text = l.Text
	}
	if j.Number == 0 {
		nl.Number = l.Number
	}
	return nl
}

// HasCursor returns true if any cursor sits on this line.
func (l *Line) HasCursor() bool {
	return len(l.Cursors) > 0
}

// Assoc returns the renderer's associated data, or nil.
func (l *Line) Assoc() any {
	p := l.assoc.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetAssoc stores renderer data on the line.
func (l *Line) SetAssoc(v any) {
	l.assoc.Store(&v)
}

func (l *Line) clearAssoc() {
	l.assoc.Store(nil)
}

// decodeStyles expands (start delta, length, id) triples into absolute spans.
// A trailing partial triple is ignored.
func decodeStyles(flat []int) []StyleSpan {
	if len(flat) < 3 {
		return nil
	}
	spans := make([]StyleSpan, 0, len(flat)/3)
	offset := 0
	for i := 0; i+2 < len(flat); i += 3 {
		start := offset + flat[i]
		end := start + flat[i+1]
		spans = append(spans, StyleSpan{Start: start, End: end, StyleID: flat[i+2]})
		offset = end
	}
	return spans
}
