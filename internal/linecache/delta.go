package linecache

import (
	"errors"
	"fmt"

	"github.com/dshills/linesync/internal/dirty"
	"github.com/dshills/linesync/internal/protocol"
)

// ErrMalformedOp is wrapped by Apply when an op could not be applied. The
// state built from the ops before it is still committed.
var ErrMalformedOp = errors.New("malformed update op")

// builder accumulates the new state while a delta is walked against the old
// one. oldIx is a position in the old sequence, margins included.
type builder struct {
	oldBefore int
	oldLines  []*Line

	oldIx  int
	before int
	lines  []*Line
	after  int

	inval dirty.Set
}

// cursor is the index the next emitted line will take.
func (b *builder) cursor() int {
	return b.before + len(b.lines) + b.after
}

// oldEnd is the old index just past the last concrete old line.
func (b *builder) oldEnd() int {
	return b.oldBefore + len(b.oldLines)
}

// addUnknown appends n unknown lines to whichever margin is open.
func (b *builder) addUnknown(n int) {
	if len(b.lines) == 0 {
		b.before += n
	} else {
		b.after += n
	}
}

// materialize turns the pending trailing margin into nil entries so concrete
// lines can follow it.
func (b *builder) materialize() {
	for ; b.after > 0; b.after-- {
		b.lines = append(b.lines, nil)
	}
}

func (b *builder) invalidate(n int) {
	// Only lines that were concrete at these positions become newly invalid.
	ix := b.cursor() - b.oldBefore
	for i := max(ix, 0); i < min(ix+n, len(b.oldLines)); i++ {
		if b.oldLines[i] != nil {
			b.inval.Add(i+b.oldBefore, 1)
		}
	}
	b.addUnknown(n)
}

func (b *builder) insert(op protocol.UpdateOp) {
	n := op.Count()
	b.materialize()
	b.inval.Add(b.cursor(), n)
	for _, j := range op.Lines[:n] {
		b.lines = append(b.lines, NewLine(j))
	}
}

// unknownRun emits n unknown lines consumed from an unknown part of the old
// sequence. A run that moved still needs redrawing, since the rows it lands
// on may have held concrete lines.
func (b *builder) unknownRun(n int) {
	if n <= 0 {
		return
	}
	if b.oldIx != b.cursor() {
		b.inval.Add(b.cursor(), n)
	}
	b.addUnknown(n)
	b.oldIx += n
}

func (b *builder) copyOrUpdate(op protocol.UpdateOp) {
	n := op.Count()
	remaining := n

	if b.oldIx < b.oldBefore {
		k := min(remaining, b.oldBefore-b.oldIx)
		b.unknownRun(k)
		remaining -= k
	}

	if remaining > 0 && b.oldIx < b.oldEnd() {
		b.materialize()
		k := min(remaining, b.oldEnd()-b.oldIx)
		dst := b.cursor()
		if b.oldIx != dst || op.Kind == protocol.OpUpdate {
			b.inval.Add(dst, k)
		}
		start := b.oldIx - b.oldBefore
		if op.Kind == protocol.OpCopy {
			b.lines = append(b.lines, b.oldLines[start:start+k]...)
		} else {
			jsonIx := n - remaining
			for i, old := range b.oldLines[start : start+k] {
				if old == nil {
					b.lines = append(b.lines, nil)
					continue
				}
				b.lines = append(b.lines, old.withUpdate(op.Lines[jsonIx+i]))
			}
		}
		b.oldIx += k
		remaining -= k
	}

	b.unknownRun(remaining)
}

// Apply applies one update delta and returns the set of line indices that
// must be redrawn.
//
// Ops are applied in order. If an op is malformed, processing stops, the
// state built so far is committed, and the returned error wraps
// ErrMalformedOp. The revision advances once per call either way.
func (c *Cache) Apply(delta protocol.UpdateDelta) (dirty.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &builder{
		oldBefore: c.invalidBefore,
		oldLines:  c.lines,
	}

	var applyErr error
	for i, op := range delta.Ops {
		if err := op.Validate(); err != nil {
			applyErr = fmt.Errorf("op %d: %w: %v", i, ErrMalformedOp, err)
			c.log.Warn("abandoning update", "op_index", i, "ops", len(delta.Ops), "err", err)
			break
		}
		switch op.Kind {
		case protocol.OpInvalidate:
			b.invalidate(op.Count())
		case protocol.OpInsert:
			b.insert(op)
		case protocol.OpCopy, protocol.OpUpdate:
			b.copyOrUpdate(op)
		case protocol.OpSkip:
			b.oldIx += op.Count()
		}
	}

	oldHeight := c.heightLocked()
	c.invalidBefore = b.before
	c.lines = b.lines
	c.invalidAfter = b.after
	if newHeight := c.heightLocked(); newHeight < oldHeight {
		b.inval.Add(newHeight, oldHeight-newHeight)
	}
	if delta.Pristine != nil {
		c.pristine = *delta.Pristine
	}
	c.revision++
	c.pending.Union(b.inval)

	if c.wake != nil {
		close(c.wake)
		c.wake = nil
	}

	return b.inval, applyErr
}
