package termview

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"

	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/style"
)

// cell is one screen column of a rendered line.
type cell struct {
	main  rune
	comb  []rune
	style tcell.Style
	width int
	// offset is the UTF-8 byte offset of the grapheme in the line text.
	offset int
}

// rendered is the conversion of a line into cells, cached in the line's
// associated-data slot. It is reused while the style table and tab width it
// was built with are unchanged.
type rendered struct {
	styleRev uint64
	tabWidth int
	cells    []cell
	// cursorCols maps each cursor offset to a screen column.
	cursorCols []int
	// end is the byte offset just past the text, before any line ending.
	end int
}

// toTcell converts a resolved style.
func toTcell(s style.Style) tcell.Style {
	ts := tcell.StyleDefault
	if s.Fg != nil {
		r, g, b := s.Fg.RGB()
		ts = ts.Foreground(tcell.NewRGBColor(int32(r), int32(g), int32(b)))
	}
	if s.Bg != nil {
		r, g, b := s.Bg.RGB()
		ts = ts.Background(tcell.NewRGBColor(int32(r), int32(g), int32(b)))
	}
	if s.Bold() {
		ts = ts.Bold(true)
	}
	if s.Italic {
		ts = ts.Italic(true)
	}
	if s.Underline {
		ts = ts.Underline(true)
	}
	return ts
}

// styleAt returns the style for the byte at offset. Later spans win.
func styleAt(l *linecache.Line, offset int, table *style.Table) tcell.Style {
	ts := tcell.StyleDefault
	for _, sp := range l.Styles {
		if offset < sp.Start || offset >= sp.End {
			continue
		}
		if s, ok := table.Lookup(sp.StyleID); ok {
			ts = toTcell(s)
		} else if sp.StyleID == style.Selection {
			ts = ts.Reverse(true)
		}
	}
	return ts
}

// render converts l into cells, reusing the cached conversion when valid.
func render(l *linecache.Line, table *style.Table, tabWidth int) *rendered {
	rev := table.Revision()
	if r, ok := l.Assoc().(*rendered); ok && r.styleRev == rev && r.tabWidth == tabWidth {
		return r
	}

	r := &rendered{
		styleRev: rev,
		tabWidth: tabWidth,
		end:      len(strings.TrimRight(l.Text, "\r\n")),
	}
	col := 0
	g := uniseg.NewGraphemes(l.Text)
	for g.Next() {
		from, _ := g.Positions()
		runes := g.Runes()
		if runes[0] == '\n' || runes[0] == '\r' {
			break
		}
		ts := styleAt(l, from, table)
		if runes[0] == '\t' {
			n := tabWidth - col%tabWidth
			for i := 0; i < n; i++ {
				r.cells = append(r.cells, cell{main: ' ', style: ts, width: 1, offset: from})
			}
			col += n
			continue
		}
		w := g.Width()
		if w < 1 {
			w = 1
		}
		r.cells = append(r.cells, cell{main: runes[0], comb: runes[1:], style: ts, width: w, offset: from})
		col += w
	}

	for _, off := range l.Cursors {
		r.cursorCols = append(r.cursorCols, r.column(off))
	}
	l.SetAssoc(r)
	return r
}

// offsetAt returns the byte offset of the grapheme drawn at screen column
// col. Columns past the text map to its end.
func (r *rendered) offsetAt(col int) int {
	x := 0
	for _, c := range r.cells {
		if col < x+c.width {
			return c.offset
		}
		x += c.width
	}
	return r.end
}

// column returns the screen column of a byte offset.
func (r *rendered) column(offset int) int {
	col := 0
	for _, c := range r.cells {
		if c.offset >= offset {
			return col
		}
		col += c.width
	}
	return col
}
