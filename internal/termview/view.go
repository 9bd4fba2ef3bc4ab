// Package termview draws a view's line cache on a terminal and turns key
// presses into engine edits.
package termview

import (
	"context"
	"sync"

	"github.com/gdamore/tcell/v2"
	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/linecache"
	"github.com/dshills/linesync/internal/logging"
	"github.com/dshills/linesync/internal/protocol"
	"github.com/dshills/linesync/internal/style"
)

// Editor issues edits for a view. *session.Session satisfies it.
type Editor interface {
	Insert(viewID, chars string) error
	Edit(viewID, method string, params any) error
	Scroll(viewID string, first, last int) error
	Save(viewID, filePath string) error
	Gesture(viewID string, line, col int, ty string) error
}

// GesturePointSelect places the cursor at the clicked position.
const GesturePointSelect = "point_select"

// Options configures a View.
type Options struct {
	Styles   *style.Table
	TabWidth int
	// SavePath is where Ctrl-S saves. Saving is disabled when empty.
	SavePath string
	Logger   pslog.Logger
}

// View renders one engine view. Drawing and key handling must happen on one
// goroutine; Run provides that loop.
type View struct {
	screen tcell.Screen
	cache  *linecache.Cache
	viewID string
	editor Editor
	styles *style.Table
	save   string
	log    pslog.Logger

	mu       sync.Mutex
	tabWidth int
	top      int
	sent     [2]int
}

// New creates a view drawing cache on screen.
func New(screen tcell.Screen, cache *linecache.Cache, viewID string, editor Editor, opts Options) *View {
	if opts.Styles == nil {
		opts.Styles = style.NewTable()
	}
	if opts.TabWidth < 1 {
		opts.TabWidth = 4
	}
	return &View{
		screen:   screen,
		cache:    cache,
		viewID:   viewID,
		editor:   editor,
		styles:   opts.Styles,
		save:     opts.SavePath,
		log:      logging.WithView(logging.WithComponent(opts.Logger, "termview"), viewID),
		tabWidth: opts.TabWidth,
		sent:     [2]int{-1, -1},
	}
}

// Top returns the first visible line.
func (v *View) Top() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

// SetTabWidth changes tab expansion. Cached line conversions rebuild on the
// next draw.
func (v *View) SetTabWidth(n int) {
	if n < 1 {
		return
	}
	v.mu.Lock()
	v.tabWidth = n
	v.mu.Unlock()
}

func (v *View) rows() int {
	_, h := v.screen.Size()
	return h
}

// SetTop scrolls so that line top is first, clamped to the document, and
// tells the engine which lines are now visible.
func (v *View) SetTop(top int) {
	rows := v.rows()
	if maxTop := v.cache.Height() - rows; top > maxTop {
		top = maxTop
	}
	if top < 0 {
		top = 0
	}
	v.mu.Lock()
	v.top = top
	v.mu.Unlock()
	v.syncScroll()
}

// EnsureVisible scrolls the minimum amount to show line.
func (v *View) EnsureVisible(line int) {
	rows := v.rows()
	top := v.Top()
	switch {
	case line < top:
		v.SetTop(line)
	case line >= top+rows:
		v.SetTop(line - rows + 1)
	}
}

// syncScroll sends the visible range when it differs from the last one sent.
func (v *View) syncScroll() {
	v.mu.Lock()
	first, last := v.top, v.top+v.rows()
	if v.sent == [2]int{first, last} {
		v.mu.Unlock()
		return
	}
	v.sent = [2]int{first, last}
	v.mu.Unlock()

	if err := v.editor.Scroll(v.viewID, first, last); err != nil {
		v.log.Warn("scroll failed", "error", err)
	}
}

// Draw paints the visible lines. Lines not yet sent by the engine get a short
// bounded wait and are drawn as "~" if still missing.
func (v *View) Draw() {
	v.mu.Lock()
	top, tabWidth := v.top, v.tabWidth
	v.mu.Unlock()

	width, rows := v.screen.Size()
	lines := v.cache.BlockingGet(top, top+rows)
	height := v.cache.Height()

	v.screen.Clear()
	cursorShown := false
	for row, l := range lines {
		ix := top + row
		switch {
		case ix >= height:
			continue
		case l == nil:
			v.screen.SetContent(0, row, '~', nil, tcell.StyleDefault.Dim(true))
			continue
		}

		r := render(l, v.styles, tabWidth)
		x := 0
		for _, c := range r.cells {
			if x+c.width > width {
				break
			}
			v.screen.SetContent(x, row, c.main, c.comb, c.style)
			x += c.width
		}
		if !cursorShown && l.HasCursor() && r.cursorCols[0] < width {
			v.screen.ShowCursor(r.cursorCols[0], row)
			cursorShown = true
		}
	}
	if !cursorShown {
		v.screen.HideCursor()
	}
	v.screen.Show()
}

// HandleEvent processes one terminal event and reports whether the user asked
// to quit.
func (v *View) HandleEvent(ev tcell.Event) (quit bool) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.handleKey(ev)
	case *tcell.EventMouse:
		v.handleMouse(ev)
	case *tcell.EventResize:
		v.screen.Sync()
		v.SetTop(v.Top())
		v.Draw()
	}
	return false
}

var keyEdits = map[tcell.Key]string{
	tcell.KeyEnter:      protocol.EditInsertNewline,
	tcell.KeyBackspace:  protocol.EditDeleteBackward,
	tcell.KeyBackspace2: protocol.EditDeleteBackward,
	tcell.KeyDelete:     protocol.EditDeleteForward,
	tcell.KeyUp:         protocol.EditMoveUp,
	tcell.KeyDown:       protocol.EditMoveDown,
	tcell.KeyLeft:       protocol.EditMoveLeft,
	tcell.KeyRight:      protocol.EditMoveRight,
	tcell.KeyCtrlZ:      protocol.EditUndo,
	tcell.KeyCtrlY:      protocol.EditRedo,
}

// handleMouse turns a primary button press into a point-select gesture at
// the clicked line and byte offset.
func (v *View) handleMouse(ev *tcell.EventMouse) {
	if ev.Buttons()&tcell.Button1 == 0 {
		return
	}
	x, y := ev.Position()
	line := v.Top() + y
	if line >= v.cache.Height() {
		return
	}
	col := 0
	if l := v.cache.Get(line); l != nil {
		v.mu.Lock()
		tabWidth := v.tabWidth
		v.mu.Unlock()
		col = render(l, v.styles, tabWidth).offsetAt(x)
	}
	if err := v.editor.Gesture(v.viewID, line, col, GesturePointSelect); err != nil {
		v.log.Warn("gesture failed", "line", line, "error", err)
	}
}

func (v *View) handleKey(ev *tcell.EventKey) bool {
	var err error
	switch key := ev.Key(); key {
	case tcell.KeyCtrlQ:
		return true
	case tcell.KeyCtrlS:
		if v.save == "" {
			v.log.Info("save skipped, no file path")
			return false
		}
		err = v.editor.Save(v.viewID, v.save)
	case tcell.KeyRune:
		err = v.editor.Insert(v.viewID, string(ev.Rune()))
	case tcell.KeyTab:
		err = v.editor.Insert(v.viewID, "\t")
	case tcell.KeyPgDn:
		v.SetTop(v.Top() + v.rows())
		v.Draw()
	case tcell.KeyPgUp:
		v.SetTop(v.Top() - v.rows())
		v.Draw()
	default:
		if method, ok := keyEdits[key]; ok {
			err = v.editor.Edit(v.viewID, method, nil)
		}
	}
	if err != nil {
		v.log.Warn("edit failed", "key", ev.Name(), "error", err)
	}
	return false
}

// Run draws and handles events until ctx is done or the user quits. Each
// receive on redraw repaints the view.
func (v *View) Run(ctx context.Context, redraw <-chan struct{}) error {
	events := make(chan tcell.Event)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}()

	v.SetTop(v.Top())
	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-redraw:
			v.Draw()
		case ev := <-events:
			if v.HandleEvent(ev) {
				return nil
			}
		}
	}
}
