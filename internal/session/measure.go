package session

import (
	"github.com/rivo/uniseg"

	"github.com/dshills/linesync/internal/protocol"
)

// Measurer computes rendered string widths for measure_width requests.
type Measurer interface {
	Measure(item protocol.MeasureItem) []float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(item protocol.MeasureItem) []float64

// Measure implements Measurer.
func (f MeasureFunc) Measure(item protocol.MeasureItem) []float64 { return f(item) }

// CellMeasurer measures in terminal cells, counting wide graphemes as two.
// Style ids are ignored since every style uses the same cell grid.
type CellMeasurer struct{}

// Measure implements Measurer.
func (CellMeasurer) Measure(item protocol.MeasureItem) []float64 {
	out := make([]float64, len(item.Strings))
	for i, s := range item.Strings {
		out[i] = float64(uniseg.StringWidth(s))
	}
	return out
}
