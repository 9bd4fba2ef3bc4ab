package dirty

import (
	"sort"
	"strings"
)

// Set is an ordered, coalesced set of line ranges.
// The zero value is an empty set ready to use. A Set is not safe for
// concurrent use; the line cache guards its sets with its own lock.
type Set struct {
	ranges []Range
}

// Add marks n lines starting at start.
func (s *Set) Add(start, n int) {
	s.AddRange(NewRange(start, n))
}

// AddRange marks a range, merging it with any touching ranges.
func (s *Set) AddRange(r Range) {
	if r.IsEmpty() {
		return
	}

	// First range that ends at or after r.Start could touch r.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End >= r.Start
	})

	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= r.End {
		r, _ = r.Merge(s.ranges[j])
		j++
	}

	switch {
	case i == j:
		s.ranges = append(s.ranges, Range{})
		copy(s.ranges[i+1:], s.ranges[i:])
		s.ranges[i] = r
	default:
		s.ranges[i] = r
		s.ranges = append(s.ranges[:i+1], s.ranges[j:]...)
	}
}

// Union adds every range of other to s.
func (s *Set) Union(other Set) {
	for _, r := range other.ranges {
		s.AddRange(r)
	}
}

// IsEmpty returns true if no line is marked.
func (s Set) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Ranges returns a copy of the coalesced ranges in ascending order.
func (s Set) Ranges() []Range {
	if len(s.ranges) == 0 {
		return nil
	}
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Contains returns true if the given line is marked.
func (s Set) Contains(line int) bool {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End > line
	})
	return i < len(s.ranges) && s.ranges[i].Contains(line)
}

// Count returns the number of marked lines.
func (s Set) Count() int {
	n := 0
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Lines returns every marked line in ascending order.
func (s Set) Lines() []int {
	lines := make([]int, 0, s.Count())
	for _, r := range s.ranges {
		for line := r.Start; line < r.End; line++ {
			lines = append(lines, line)
		}
	}
	return lines
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	return Set{ranges: s.Ranges()}
}

// Clear removes every range.
func (s *Set) Clear() {
	s.ranges = s.ranges[:0]
}

// String returns a string representation of the set, e.g. "{[0,2) [5,6)}".
func (s Set) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}
