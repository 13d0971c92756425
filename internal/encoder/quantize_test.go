package encoder

import (
	"math"
	"math/rand"
	"testing"
)

func TestQuantizeStochasticOnGrid(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	minVal, maxVal := float32(0), float32(6)
	levels := 8
	step := (maxVal - minVal) / float32(levels-1)

	x := make([]float32, 512)
	for i := range x {
		x[i] = rng.Float32() * 6
	}
	quantizeStochastic(x, minVal, maxVal, levels, rng)

	for i, v := range x {
		level := float64((v - minVal) / step)
		if diff := math.Abs(level - math.Round(level)); diff > 1e-4 {
			t.Fatalf("x[%d] = %g is not on the grid (level %g)", i, v, level)
		}
		if v < minVal-1e-4 || v > maxVal+1e-4 {
			t.Fatalf("x[%d] = %g escapes [%g, %g]", i, v, minVal, maxVal)
		}
	}
}

func TestQuantizeStochasticUnbiased(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	minVal, maxVal := float32(0), float32(6)
	levels := 7 // step of exactly 1

	const draws = 20000
	inputs := []float32{0.25, 1.5, 2.9, 4.501, 5.75}
	for _, v := range inputs {
		var sum float64
		buf := make([]float32, 1)
		for i := 0; i < draws; i++ {
			buf[0] = v
			quantizeStochastic(buf, minVal, maxVal, levels, rng)
			sum += float64(buf[0])
		}
		mean := sum / draws
		// Single-draw stddev is at most step/2; the mean over 20k draws has
		// stddev below 0.004, so 0.02 is a comfortable bound.
		if math.Abs(mean-float64(v)) > 0.02 {
			t.Fatalf("mean of quantized %g is %g, biased beyond tolerance", v, mean)
		}
	}
}

func TestQuantizeStochasticExactGridPointsFixed(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	// Values already on the grid must never move.
	x := []float32{0, 1, 2, 3, 4, 5, 6}
	want := append([]float32(nil), x...)
	for i := 0; i < 50; i++ {
		quantizeStochastic(x, 0, 6, 7, rng)
		for j := range x {
			if x[j] != want[j] {
				t.Fatalf("grid point %g moved to %g", want[j], x[j])
			}
		}
	}
}
