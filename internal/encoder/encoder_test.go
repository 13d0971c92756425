package encoder

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/sparsify/internal/tensor"
)

func TestEncodeHandComputed(t *testing.T) {
	// N=2, D=3, M=4, k=2 with a weight matrix that copies the first three
	// input coordinates into the first three latents and leaves the fourth
	// latent dead.
	input := tensor.NewMatFromData(2, 3, []float32{
		1, 2, 3,
		6, 5, 4,
	})
	weight := tensor.NewMatFromData(4, 3, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		0, 0, 0,
	})
	bias := []float32{0, 0, 0, 0}

	out, ctx, err := Encode(&input, &weight, bias, Options{K: 2, Activation: ActivationTopK})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if ctx == nil {
		t.Fatal("Encode returned nil context")
	}

	wantPre := []float32{
		1, 2, 3, 0,
		6, 5, 4, 0,
	}
	for i, want := range wantPre {
		if out.PreActs.Data[i] != want {
			t.Fatalf("preacts[%d] = %g, want %g", i, out.PreActs.Data[i], want)
		}
	}

	wantVals := []float32{3, 2, 6, 5}
	wantIdx := []int{2, 1, 0, 1}
	for i := range wantVals {
		if out.Values.Data[i] != wantVals[i] {
			t.Fatalf("values[%d] = %g, want %g", i, out.Values.Data[i], wantVals[i])
		}
		if out.Indices[i] != wantIdx[i] {
			t.Fatalf("indices[%d] = %d, want %d", i, out.Indices[i], wantIdx[i])
		}
	}
}

func TestEncodeTopKMatchesDensePreacts(t *testing.T) {
	t.Parallel()

	n, d, m, k := 7, 11, 24, 5
	input := tensor.NewMat(n, d)
	weight := tensor.NewMat(m, d)
	bias := make([]float32, m)
	tensor.FillRand(&input, 1)
	tensor.FillRand(&weight, 2)
	for i := range bias {
		bias[i] = (float32(i%5) - 2) * 0.004
	}

	out, _, err := Encode(&input, &weight, bias, Options{K: k, Activation: ActivationTopK})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for row := 0; row < n; row++ {
		pre := out.PreActs.Row(row)
		vals := out.Values.Row(row)
		idx := out.Indices[row*k : (row+1)*k]

		// Self-consistency: each value is the preact at its index.
		seen := make(map[int]bool, k)
		for j := 0; j < k; j++ {
			if idx[j] < 0 || idx[j] >= m {
				t.Fatalf("row %d: index %d out of range", row, idx[j])
			}
			if seen[idx[j]] {
				t.Fatalf("row %d: duplicate index %d", row, idx[j])
			}
			seen[idx[j]] = true
			if vals[j] != pre[idx[j]] {
				t.Fatalf("row %d: values[%d] = %g, preacts[%d] = %g", row, j, vals[j], idx[j], pre[idx[j]])
			}
		}

		// Set equality with the true k largest: every unselected entry must
		// be <= the smallest selected one.
		minSel := vals[0]
		for _, v := range vals {
			if v < minSel {
				minSel = v
			}
		}
		for i, v := range pre {
			if !seen[i] && v > minSel {
				t.Fatalf("row %d: unselected preact[%d] = %g exceeds selected minimum %g", row, i, v, minSel)
			}
		}
	}
}

func TestEncodeGroupMax(t *testing.T) {
	t.Parallel()

	n, d, m, k := 5, 9, 20, 4
	groupSize := m / k
	input := tensor.NewMat(n, d)
	weight := tensor.NewMat(m, d)
	tensor.FillRand(&input, 3)
	tensor.FillRand(&weight, 4)

	out, _, err := Encode(&input, &weight, nil, Options{K: k, Activation: ActivationGroupMax})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for row := 0; row < n; row++ {
		pre := out.PreActs.Row(row)
		vals := out.Values.Row(row)
		idx := out.Indices[row*k : (row+1)*k]

		for g := 0; g < k; g++ {
			lo, hi := g*groupSize, (g+1)*groupSize
			if idx[g] < lo || idx[g] >= hi {
				t.Fatalf("row %d group %d: index %d outside [%d, %d)", row, g, idx[g], lo, hi)
			}
			max := pre[lo]
			for i := lo + 1; i < hi; i++ {
				if pre[i] > max {
					max = pre[i]
				}
			}
			if vals[g] != max {
				t.Fatalf("row %d group %d: value %g, group max %g", row, g, vals[g], max)
			}
			if pre[idx[g]] != vals[g] {
				t.Fatalf("row %d group %d: preacts[%d] = %g, value %g", row, g, idx[g], pre[idx[g]], vals[g])
			}
		}
	}
}

func TestEncodeQuantizedOutputsOnGrid(t *testing.T) {
	t.Parallel()

	n, d, m, k := 4, 6, 12, 3
	minVal, maxVal := float32(0), float32(6)
	levels := 16
	input := tensor.NewMat(n, d)
	weight := tensor.NewMat(m, d)
	tensor.FillRand(&input, 5)
	tensor.FillRand(&weight, 6)

	out, _, err := Encode(&input, &weight, nil, Options{
		K:          k,
		Activation: ActivationTopK,
		Quantize:   true,
		MinVal:     minVal,
		MaxVal:     maxVal,
		Levels:     levels,
		Rand:       rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	step := (maxVal - minVal) / float32(levels-1)
	for i, v := range out.PreActs.Data {
		level := (v - minVal) / step
		nearest := float32(int(level + 0.5))
		if diff := level - nearest; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("preacts[%d] = %g is off the %d-level grid", i, v, levels)
		}
	}
}

func TestEncodeInvalidArguments(t *testing.T) {
	t.Parallel()

	input := tensor.NewMat(2, 3)
	weight := tensor.NewMat(4, 3)

	cases := []struct {
		name    string
		input   *tensor.Mat
		weight  *tensor.Mat
		bias    []float32
		opts    Options
		sent    error
		wantMsg string
	}{
		{
			name:    "unknown activation",
			input:   &input,
			weight:  &weight,
			opts:    Options{K: 2, Activation: "bogus"},
			sent:    ErrInvalidArgument,
			wantMsg: "bogus",
		},
		{
			name:   "groupmax uneven split",
			input:  &input,
			weight: &weight,
			opts:   Options{K: 3, Activation: ActivationGroupMax},
			sent:   ErrInvalidArgument,
		},
		{
			name:   "levels too small",
			input:  &input,
			weight: &weight,
			opts:   Options{K: 2, Activation: ActivationTopK, Quantize: true, MinVal: 0, MaxVal: 6, Levels: 1},
			sent:   ErrInvalidArgument,
		},
		{
			name:   "empty quantization range",
			input:  &input,
			weight: &weight,
			opts:   Options{K: 2, Activation: ActivationTopK, Quantize: true, MinVal: 6, MaxVal: 6, Levels: 4},
			sent:   ErrInvalidArgument,
		},
		{
			name:   "k exceeds latents",
			input:  &input,
			weight: &weight,
			opts:   Options{K: 5, Activation: ActivationTopK},
			sent:   ErrInvalidArgument,
		},
		{
			name:   "k not positive",
			input:  &input,
			weight: &weight,
			opts:   Options{K: 0, Activation: ActivationTopK},
			sent:   ErrInvalidArgument,
		},
		{
			name:   "weight column mismatch",
			input:  &input,
			weight: func() *tensor.Mat { m := tensor.NewMat(4, 5); return &m }(),
			opts:   Options{K: 2, Activation: ActivationTopK},
			sent:   ErrShapeMismatch,
		},
		{
			name:   "bias length mismatch",
			input:  &input,
			weight: &weight,
			bias:   make([]float32, 3),
			opts:   Options{K: 2, Activation: ActivationTopK},
			sent:   ErrShapeMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Encode(tc.input, tc.weight, tc.bias, tc.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tc.sent) {
				t.Fatalf("error %v is not %v", err, tc.sent)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestEncodeConcurrentCallsIndependent(t *testing.T) {
	t.Parallel()

	n, d, m, k := 4, 8, 16, 4

	type result struct {
		out  Output
		gi   *tensor.Mat
		seed int64
	}

	run := func(seed int64) result {
		input := tensor.NewMat(n, d)
		weight := tensor.NewMat(m, d)
		tensor.FillRand(&input, seed)
		tensor.FillRand(&weight, seed+100)

		out, ctx, err := Encode(&input, &weight, nil, Options{K: k, Activation: ActivationTopK})
		if err != nil {
			t.Errorf("seed %d: %v", seed, err)
			return result{}
		}
		grad := tensor.NewMat(n, k)
		tensor.FillRand(&grad, seed+200)
		grads, err := ctx.Backward(&grad, GradRequest{Input: true})
		if err != nil {
			t.Errorf("seed %d backward: %v", seed, err)
			return result{}
		}
		return result{out: out, gi: grads.Input, seed: seed}
	}

	// Serial reference results.
	want := make([]result, 8)
	for i := range want {
		want[i] = run(int64(i + 1))
	}

	got := make([]result, len(want))
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = run(int64(i + 1))
		}(i)
	}
	wg.Wait()

	for i := range want {
		for j := range want[i].out.Values.Data {
			if got[i].out.Values.Data[j] != want[i].out.Values.Data[j] {
				t.Fatalf("call %d: concurrent values diverge at %d", i, j)
			}
		}
		for j := range want[i].out.Indices {
			if got[i].out.Indices[j] != want[i].out.Indices[j] {
				t.Fatalf("call %d: concurrent indices diverge at %d", i, j)
			}
		}
		for j := range want[i].gi.Data {
			if got[i].gi.Data[j] != want[i].gi.Data[j] {
				t.Fatalf("call %d: concurrent input gradients diverge at %d", i, j)
			}
		}
	}
}
