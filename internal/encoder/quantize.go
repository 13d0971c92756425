package encoder

import (
	"math"
	"math/rand"
)

// quantizeStochastic maps every element of x onto the grid of `levels`
// evenly spaced values across [minVal, maxVal] using stochastic rounding:
// the fractional position between the two neighbouring grid points is the
// probability of rounding up, so the expectation of the rounded value equals
// the input.  Each element draws an independent uniform sample; correlated
// draws would bias the gradient estimate.
//
// Callers must guarantee levels >= 2 and maxVal > minVal.
func quantizeStochastic(x []float32, minVal, maxVal float32, levels int, rng *rand.Rand) {
	scale := float32(levels-1) / (maxVal - minVal)
	step := (maxVal - minVal) / float32(levels-1)
	for i, v := range x {
		s := (v - minVal) * scale
		level := float32(math.Floor(float64(s)))
		if rng.Float32() < s-level {
			level++
		}
		x[i] = level*step + minVal
	}
}
