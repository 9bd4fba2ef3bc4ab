// Package dirty tracks which line indices need redrawing after the line cache
// changes. Ranges are half-open and kept coalesced so a renderer can walk them
// in order without re-checking overlaps.
package dirty

import "fmt"

// Range is a half-open range of line indices [Start, End).
type Range struct {
	Start int
	End   int
}

// NewRange creates a range of n lines starting at start.
// A non-positive n yields an empty range.
func NewRange(start, n int) Range {
	if n < 0 {
		n = 0
	}
	return Range{Start: start, End: start + n}
}

// IsEmpty returns true if the range covers no lines.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Len returns the number of lines covered by the range.
func (r Range) Len() int {
	if r.IsEmpty() {
		return 0
	}
	return r.End - r.Start
}

// Contains returns true if the range covers the given line.
func (r Range) Contains(line int) bool {
	return line >= r.Start && line < r.End
}

// Touches returns true if two ranges overlap or abut, meaning they can be
// merged into one range without covering any extra line.
func (r Range) Touches(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Merge merges two touching ranges.
// Returns the merged range and true, or the original and false if the ranges
// are disjoint.
func (r Range) Merge(other Range) (Range, bool) {
	if !r.Touches(other) {
		return r, false
	}
	return Range{Start: min(r.Start, other.Start), End: max(r.End, other.End)}, true
}

// String returns a string representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}
