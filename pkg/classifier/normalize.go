package classifier

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Normalizer rescales src into dst (same length). It reports false when the
// input is degenerate; dst is then all zeros.
type Normalizer func(dst, src []float64) bool

// NormalizerByName returns "minmax" or "robust".
func NormalizerByName(name string) (Normalizer, error) {
	switch name {
	case "", "minmax":
		return MinMax, nil
	case "robust":
		return Robust, nil
	default:
		return nil, fmt.Errorf("unknown normalization %q", name)
	}
}

// MinMax maps src onto [0, 1]: (x - min) / (max - min).
func MinMax(dst, src []float64) bool {
	if len(src) == 0 {
		return false
	}
	lo, hi := floats.Min(src), floats.Max(src)
	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		zero(dst)
		return false
	}
	for i, v := range src {
		dst[i] = (v - lo) / span
	}
	return true
}

// Robust centres src on its median and scales by the interquartile range.
func Robust(dst, src []float64) bool {
	if len(src) == 0 {
		return false
	}
	sorted := append([]float64(nil), src...)
	sort.Float64s(sorted)

	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) - stat.Quantile(0.25, stat.Empirical, sorted, nil)
	if iqr == 0 || math.IsNaN(iqr) || math.IsInf(iqr, 0) {
		zero(dst)
		return false
	}
	for i, v := range src {
		dst[i] = (v - median) / iqr
	}
	return true
}

func zero(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}

// Softmax returns exp(x_i) / sum(exp(x)), shifted by max(x) for stability.
func Softmax(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	m := floats.Max(x)
	for i, v := range x {
		out[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Decide picks the most probable index. An empty vector maps to Unknown.
func Decide(probabilities []float64) (Gesture, float64) {
	if len(probabilities) == 0 {
		return Unknown, 0
	}
	i := floats.MaxIdx(probabilities)
	return FromIndex(i), probabilities[i]
}
