package colormap

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// Range is the global value range of a series. It is computed once, before
// any frame is rendered, and not changed afterwards.
type Range struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// Empty reports whether no finite value contributed to the range.
func (r Range) Empty() bool { return r.Count == 0 }

// ComputeRange scans every sample of every date in series.
func ComputeRange(series domain.SampleSeries) Range {
	var all []float64
	for _, set := range series.Sets {
		for _, s := range set.Samples {
			if !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0) {
				all = append(all, s.Value)
			}
		}
	}
	return RangeOf(all)
}

// RangeOf returns the range of finite values in vals.
func RangeOf(vals []float64) Range {
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Range{}
	}
	return Range{Min: floats.Min(finite), Max: floats.Max(finite), Count: len(finite)}
}
