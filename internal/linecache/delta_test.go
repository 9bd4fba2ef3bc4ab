package linecache

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/linesync/internal/dirty"
	"github.com/dshills/linesync/internal/logging"
	"github.com/dshills/linesync/internal/protocol"
)

func newTestCache() *Cache {
	return New(DefaultConfig(), logging.Discard())
}

func textLines(texts ...string) []protocol.LineJSON {
	out := make([]protocol.LineJSON, len(texts))
	for i, s := range texts {
		out[i] = protocol.TextLine(s)
	}
	return out
}

func delta(ops ...protocol.UpdateOp) protocol.UpdateDelta {
	return protocol.UpdateDelta{Ops: ops}
}

// fill builds a cache holding n concrete lines "l0".."l<n-1>".
func fill(t *testing.T, n int) *Cache {
	t.Helper()
	c := newTestCache()
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("l%d", i)
	}
	if _, err := c.Apply(delta(protocol.Op(protocol.OpInsert, n, textLines(texts...)...))); err != nil {
		t.Fatalf("fill: %v", err)
	}
	return c
}

func texts(c *Cache) []string {
	h := c.Height()
	out := make([]string, h)
	for i := 0; i < h; i++ {
		if l := c.Get(i); l != nil {
			out[i] = l.Text
		} else {
			out[i] = "<nil>"
		}
	}
	return out
}

func TestApplyInsertIntoEmpty(t *testing.T) {
	c := newTestCache()
	initial := c.Revision()

	inval, err := c.Apply(delta(protocol.Op(protocol.OpInsert, 2, textLines("a", "b")...)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if c.Height() != 2 {
		t.Errorf("Height() = %d, want 2", c.Height())
	}
	if c.Revision() != initial+1 {
		t.Errorf("Revision() = %d, want %d", c.Revision(), initial+1)
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 2}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyInvalidateIntoEmpty(t *testing.T) {
	c := newTestCache()

	inval, err := c.Apply(delta(protocol.Op(protocol.OpInvalidate, 3)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	snap := c.Snapshot()
	if snap.InvalidBefore != 3 {
		t.Errorf("InvalidBefore = %d, want 3", snap.InvalidBefore)
	}
	if c.Height() != 3 {
		t.Errorf("Height() = %d, want 3", c.Height())
	}
	if c.Get(1) != nil {
		t.Error("Get(1) should be nil")
	}
	if !inval.IsEmpty() {
		t.Errorf("inval = %v, want empty", inval)
	}
}

func TestApplyCopySkipCopy(t *testing.T) {
	c := fill(t, 5)

	inval, err := c.Apply(delta(
		protocol.Op(protocol.OpCopy, 2),
		protocol.Op(protocol.OpSkip, 1),
		protocol.Op(protocol.OpCopy, 2),
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if diff := cmp.Diff([]string{"l0", "l1", "l3", "l4"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	// l3 and l4 moved up one row and the old last row is gone.
	if diff := cmp.Diff([]dirty.Range{{Start: 2, End: 5}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyCopyInPlaceIsNotInvalidated(t *testing.T) {
	c := fill(t, 4)
	before := c.Snapshot()

	inval, err := c.Apply(delta(protocol.Op(protocol.OpCopy, 4)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !inval.IsEmpty() {
		t.Errorf("inval = %v, want empty", inval)
	}
	after := c.Snapshot()
	for i := range before.Lines {
		if before.Lines[i] != after.Lines[i] {
			t.Errorf("line %d identity changed on in-place copy", i)
		}
	}
}

func TestApplyUpdateKeepsTextAndReplacesDecorations(t *testing.T) {
	c := fill(t, 2)
	c.Get(1).SetAssoc("rendered")

	inval, err := c.Apply(delta(
		protocol.Op(protocol.OpCopy, 1),
		protocol.Op(protocol.OpUpdate, 1, protocol.LineJSON{Cursor: []int{1}, Styles: []int{0, 2, 5}}),
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	l := c.Get(1)
	if l.Text != "l1" {
		t.Errorf("Text = %q, want l1", l.Text)
	}
	if diff := cmp.Diff([]int{1}, l.Cursors); diff != "" {
		t.Errorf("Cursors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]StyleSpan{{Start: 0, End: 2, StyleID: 5}}, l.Styles); diff != "" {
		t.Errorf("Styles mismatch (-want +got):\n%s", diff)
	}
	if l.Assoc() != nil {
		t.Error("updated line should not inherit renderer data")
	}
	// Update always redraws, even in place.
	if !inval.Contains(1) || inval.Contains(0) {
		t.Errorf("inval = %v, want {[1,2)}", inval)
	}
}

func TestApplyUpdateReplacesTextWhenPresent(t *testing.T) {
	c := fill(t, 1)
	if _, err := c.Apply(delta(protocol.Op(protocol.OpUpdate, 1, protocol.TextLine("new")))); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := c.Get(0).Text; got != "new" {
		t.Errorf("Text = %q, want new", got)
	}
}

func TestApplyCopyAfterUpdateInSameBatch(t *testing.T) {
	// A copy always reads the pre-delta sequence. An earlier update in the
	// same batch does not affect what a later copy carries over.
	c := fill(t, 3)
	old := c.Snapshot()

	inval, err := c.Apply(delta(
		protocol.Op(protocol.OpUpdate, 1, protocol.TextLine("A")),
		protocol.Op(protocol.OpCopy, 2),
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if diff := cmp.Diff([]string{"A", "l1", "l2"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if c.Get(1) != old.Lines[1] || c.Get(2) != old.Lines[2] {
		t.Error("copied lines should keep their identity")
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 1}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}

	// Replacing a line by skip+ins, then copying the next old line back to
	// its own index, leaves that index untouched.
	c = fill(t, 2)
	old = c.Snapshot()
	inval, err = c.Apply(delta(
		protocol.Op(protocol.OpSkip, 1),
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("X")),
		protocol.Op(protocol.OpCopy, 1),
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if c.Get(1) != old.Lines[1] {
		t.Error("in-place copy should carry the old line")
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 1}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyInvalidateMarksOnlyConcrete(t *testing.T) {
	c := newTestCache()
	// [unknown, l, l]
	if _, err := c.Apply(delta(
		protocol.Op(protocol.OpInvalidate, 1),
		protocol.Op(protocol.OpInsert, 2, textLines("a", "b")...),
	)); err != nil {
		t.Fatal(err)
	}

	inval, err := c.Apply(delta(protocol.Op(protocol.OpInvalidate, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 1, End: 3}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
	if c.Height() != 3 || c.Get(1) != nil {
		t.Errorf("expected three unknown lines, got %v", texts(c))
	}
}

func TestApplyInsertMaterializesGap(t *testing.T) {
	c := newTestCache()
	if _, err := c.Apply(delta(
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("top")),
		protocol.Op(protocol.OpInvalidate, 2),
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("bottom")),
		protocol.Op(protocol.OpInvalidate, 3),
	)); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if snap.InvalidBefore != 0 || len(snap.Lines) != 4 || snap.InvalidAfter != 3 {
		t.Fatalf("state = (%d, %d, %d), want (0, 4, 3)", snap.InvalidBefore, len(snap.Lines), snap.InvalidAfter)
	}
	if diff := cmp.Diff([]string{"top", "<nil>", "<nil>", "bottom", "<nil>", "<nil>", "<nil>"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyCopyAcrossMargins(t *testing.T) {
	c := newTestCache()
	// [unknown x2, a, b, unknown x2]
	if _, err := c.Apply(delta(
		protocol.Op(protocol.OpInvalidate, 2),
		protocol.Op(protocol.OpInsert, 2, textLines("a", "b")...),
		protocol.Op(protocol.OpInvalidate, 2),
	)); err != nil {
		t.Fatal(err)
	}

	// Copy everything, shifted down by one inserted line.
	inval, err := c.Apply(delta(
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("new")),
		protocol.Op(protocol.OpCopy, 6),
	))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"new", "<nil>", "<nil>", "a", "b", "<nil>", "<nil>"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 7}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyMalformedCommitsPartial(t *testing.T) {
	c := fill(t, 3)
	rev := c.Revision()

	inval, err := c.Apply(protocol.UpdateDelta{Ops: []protocol.UpdateOp{
		protocol.Op(protocol.OpCopy, 1),
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("x")),
		{Kind: "bogus"},
		protocol.Op(protocol.OpCopy, 2),
	}})
	if !errors.Is(err, ErrMalformedOp) {
		t.Fatalf("error = %v, want ErrMalformedOp", err)
	}
	if diff := cmp.Diff([]string{"l0", "x"}, texts(c)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	// The inserted row plus the truncated tail.
	if diff := cmp.Diff([]dirty.Range{{Start: 1, End: 3}}, inval.Ranges()); diff != "" {
		t.Errorf("inval mismatch (-want +got):\n%s", diff)
	}
	if c.Revision() != rev+1 {
		t.Errorf("Revision() = %d, want %d", c.Revision(), rev+1)
	}
}

func TestApplyMissingLinesIsMalformed(t *testing.T) {
	c := fill(t, 2)
	_, err := c.Apply(delta(protocol.Op(protocol.OpUpdate, 2, protocol.TextLine("only one"))))
	if !errors.Is(err, ErrMalformedOp) {
		t.Fatalf("error = %v, want ErrMalformedOp", err)
	}
	if c.Height() != 0 {
		t.Errorf("Height() = %d, want 0 after abandoning the first op", c.Height())
	}
}

func TestApplyPristine(t *testing.T) {
	c := newTestCache()
	if !c.Pristine() {
		t.Error("new cache should be pristine")
	}
	dirtyDoc := false
	if _, err := c.Apply(protocol.UpdateDelta{Pristine: &dirtyDoc}); err != nil {
		t.Fatal(err)
	}
	if c.Pristine() {
		t.Error("Pristine() = true after pristine=false update")
	}
}

func TestTakeInvalidationAccumulates(t *testing.T) {
	c := newTestCache()
	if _, err := c.Apply(delta(protocol.Op(protocol.OpInsert, 1, protocol.TextLine("a")))); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Apply(delta(
		protocol.Op(protocol.OpCopy, 1),
		protocol.Op(protocol.OpInsert, 1, protocol.TextLine("b")),
	)); err != nil {
		t.Fatal(err)
	}
	taken := c.TakeInvalidation()
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 2}}, taken.Ranges()); diff != "" {
		t.Errorf("taken mismatch (-want +got):\n%s", diff)
	}
	if again := c.TakeInvalidation(); !again.IsEmpty() {
		t.Errorf("second take = %v, want empty", again)
	}
}

func TestFlushAssociatedData(t *testing.T) {
	c := fill(t, 3)
	c.TakeInvalidation()
	for i := 0; i < 3; i++ {
		c.Get(i).SetAssoc(i)
	}
	rev := c.Revision()
	before := texts(c)

	c.FlushAssociatedData()

	for i := 0; i < 3; i++ {
		if c.Get(i).Assoc() != nil {
			t.Errorf("line %d still has renderer data", i)
		}
	}
	if diff := cmp.Diff(before, texts(c)); diff != "" {
		t.Errorf("flush changed content (-want +got):\n%s", diff)
	}
	if c.Revision() != rev {
		t.Errorf("flush changed revision to %d", c.Revision())
	}
	if diff := cmp.Diff([]dirty.Range{{Start: 0, End: 3}}, c.TakeInvalidation().Ranges()); diff != "" {
		t.Errorf("flush should mark every line (-want +got):\n%s", diff)
	}
}

func TestDecodeStyles(t *testing.T) {
	got := decodeStyles([]int{2, 3, 1, 1, 2, 7, 9})
	want := []StyleSpan{{Start: 2, End: 5, StyleID: 1}, {Start: 6, End: 8, StyleID: 7}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decodeStyles mismatch (-want +got):\n%s", diff)
	}
}

// randomDelta builds a well-formed delta against a cache of the given height.
func randomDelta(r *rand.Rand, height int) protocol.UpdateDelta {
	var ops []protocol.UpdateOp
	for range 1 + r.Intn(6) {
		n := r.Intn(4)
		switch r.Intn(5) {
		case 0:
			ops = append(ops, protocol.Op(protocol.OpInvalidate, n))
		case 1:
			lines := make([]protocol.LineJSON, n)
			for i := range lines {
				lines[i] = protocol.TextLine(fmt.Sprintf("i%d", r.Intn(1000)))
			}
			ops = append(ops, protocol.Op(protocol.OpInsert, n, lines...))
		case 2:
			ops = append(ops, protocol.Op(protocol.OpCopy, n))
		case 3:
			lines := make([]protocol.LineJSON, n)
			for i := range lines {
				lines[i] = protocol.LineJSON{Cursor: []int{r.Intn(3)}}
			}
			ops = append(ops, protocol.Op(protocol.OpUpdate, n, lines...))
		case 4:
			ops = append(ops, protocol.Op(protocol.OpSkip, min(n, height)))
		}
	}
	return delta(ops...)
}

func emittedCount(d protocol.UpdateDelta) int {
	n := 0
	for _, op := range d.Ops {
		if op.Kind != protocol.OpSkip {
			n += op.Count()
		}
	}
	return n
}

func TestApplyPropertiesRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		c := newTestCache()
		for step := 0; step < 8; step++ {
			d := randomDelta(r, c.Height())
			before := c.Snapshot()
			beforeHeight := before.Height()

			inval, err := c.Apply(d)
			if err != nil {
				t.Fatalf("iter %d step %d: Apply() error = %v", iter, step, err)
			}
			after := c.Snapshot()

			if got, want := after.Height(), emittedCount(d); got != want {
				t.Fatalf("iter %d step %d: height = %d, want %d", iter, step, got, want)
			}
			if after.Revision != before.Revision+1 {
				t.Fatalf("iter %d step %d: revision = %d, want %d", iter, step, after.Revision, before.Revision+1)
			}

			// Every row whose line changed must be invalidated.
			for ix := 0; ix < max(beforeHeight, after.Height()); ix++ {
				if lineAt(before, ix) != lineAt(after, ix) && !inval.Contains(ix) {
					t.Fatalf("iter %d step %d: row %d changed but inval = %v (delta %+v)", iter, step, ix, inval, d)
				}
			}
		}
	}
}

func lineAt(s Snapshot, ix int) *Line {
	i := ix - s.InvalidBefore
	if i < 0 || i >= len(s.Lines) {
		return nil
	}
	return s.Lines[i]
}

func TestApplyReplayDeterminism(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var deltas []protocol.UpdateDelta
	probe := newTestCache()
	for range 20 {
		d := randomDelta(r, probe.Height())
		if _, err := probe.Apply(d); err != nil {
			t.Fatal(err)
		}
		deltas = append(deltas, d)
	}

	a, b := newTestCache(), newTestCache()
	for _, d := range deltas {
		if _, err := a.Apply(d); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Apply(d); err != nil {
			t.Fatal(err)
		}
	}

	sa, sb := a.Snapshot(), b.Snapshot()
	if sa.InvalidBefore != sb.InvalidBefore || sa.InvalidAfter != sb.InvalidAfter {
		t.Fatalf("margins differ: (%d,%d) vs (%d,%d)", sa.InvalidBefore, sa.InvalidAfter, sb.InvalidBefore, sb.InvalidAfter)
	}
	if diff := cmp.Diff(texts(a), texts(b)); diff != "" {
		t.Errorf("replayed lines differ (-a +b):\n%s", diff)
	}
	if sa.Revision != uint64(len(deltas)) || sb.Revision != uint64(len(deltas)) {
		t.Errorf("revisions = %d, %d, want %d", sa.Revision, sb.Revision, len(deltas))
	}
}
