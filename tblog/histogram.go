package tblog

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const maxHistogramBins = 1000

// Histogram summarizes a list of values.
type Histogram struct {
	Step int

	Count      int
	Min        float64
	Max        float64
	Sum        float64
	SumSquares float64

	// Edges has one more element than Counts; bin i
	// covers [Edges[i], Edges[i+1]).
	Edges  []float64
	Counts []float64
}

// NewHistogram bins values with equal-width bins.
//
// The bin count is the larger of the Sturges and
// Freedman-Diaconis estimates. Non-finite values are
// dropped.
func NewHistogram(values []float64) *Histogram {
	var sorted []float64
	for _, x := range values {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			sorted = append(sorted, x)
		}
	}
	sort.Float64s(sorted)
	h := &Histogram{Count: len(sorted)}
	if len(sorted) == 0 {
		return h
	}
	h.Min, h.Max = sorted[0], sorted[len(sorted)-1]
	h.Sum = floats.Sum(sorted)
	h.SumSquares = floats.Dot(sorted, sorted)

	lo, hi := h.Min, h.Max
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	bins := binCount(sorted, lo, hi)
	h.Edges = make([]float64, bins+1)
	floats.Span(h.Edges, lo, hi)

	dividers := append([]float64{}, h.Edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	h.Counts = stat.Histogram(nil, dividers, sorted, nil)
	return h
}

func binCount(sorted []float64, lo, hi float64) int {
	n := float64(len(sorted))
	sturges := int(math.Ceil(math.Log2(n))) + 1
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) -
		stat.Quantile(0.25, stat.Empirical, sorted, nil)
	res := sturges
	if iqr > 0 {
		width := 2 * iqr / math.Cbrt(n)
		fd := int(math.Ceil((hi - lo) / width))
		if fd > res {
			res = fd
		}
	}
	if res > maxHistogramBins {
		res = maxHistogramBins
	}
	if res < 1 {
		res = 1
	}
	return res
}
