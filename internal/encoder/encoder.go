// Package encoder implements a fused forward/backward pass for a
// sparse-autoencoder encoder layer: a linear projection followed by a
// sparsifying top-k (or groupmax) activation, optionally with stochastic
// quantization of the pre-activations.
//
// The backward pass never materializes a dense (N, M) gradient.  It
// reconstructs the same numerical result from the k selected latents per row
// using scatter-accumulate updates, which is the whole point of fusing the
// two stages.
package encoder

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/sparsify/internal/tensor"
)

// Activation names the sparsifying selection policy.
type Activation string

const (
	// ActivationTopK selects the k largest pre-activations per row.
	ActivationTopK Activation = "topk"
	// ActivationGroupMax partitions the latent dimension into k equal
	// contiguous groups and selects one maximum per group.
	ActivationGroupMax Activation = "groupmax"
)

// Options configures a single Encode call.
type Options struct {
	// K is the number of active latents kept per sample.  Must be in
	// [1, M]; under groupmax it must divide M evenly.
	K int

	// Activation selects the sparsifying policy.
	Activation Activation

	// Quantize enables the bounded-rectify + stochastic-quantization
	// pre-activation path.  MinVal, MaxVal and Levels are only consulted
	// when it is set.
	Quantize bool
	MinVal   float32
	MaxVal   float32
	Levels   int

	// Rand is the randomness source for stochastic rounding.  When nil a
	// fresh source is created for the call.  Quantization draws new values
	// every call; sources are never cached across calls.
	Rand *rand.Rand
}

// Output is the named result triple of an Encode call.
type Output struct {
	// Values holds the selected activation values, shape (N, K).
	Values tensor.Mat
	// Indices holds the selected global column indices into the latent
	// dimension, row-major with K entries per row.  Within a row the
	// indices are unique and in [0, M).
	Indices []int
	// PreActs holds the dense post-rectify (and post-quantize) activations,
	// shape (N, M).  Not needed by Backward; exposed for caller-side
	// diagnostics such as dead-latent tracking.
	PreActs tensor.Mat
}

// Context carries exactly the forward state consumed by the paired Backward
// call: the caller's input, weight and bias (retained, not copied) and the
// selected indices.  It is call-scoped; concurrent Encode calls produce
// independent contexts.
type Context struct {
	input   *tensor.Mat
	weight  *tensor.Mat
	bias    []float32
	indices []int

	n, d, m, k int
}

// Encode runs the fused encoder forward pass.
//
// input is (N, D), weight is (M, D), bias is length M or nil.  The pipeline
// is linear -> rectify -> optional stochastic quantization -> selection; the
// plain and quantized paths share one implementation that differs only in
// the rectifier and the extra quantization stage.
//
// The returned Context pairs this call with exactly one Backward invocation.
func Encode(input, weight *tensor.Mat, bias []float32, opts Options) (Output, *Context, error) {
	if err := validate(input, weight, bias, opts); err != nil {
		return Output{}, nil, err
	}

	n, m := input.R, weight.R

	pre := tensor.NewMat(n, m)
	tensor.MatMulT(&pre, input, weight, bias)

	if opts.Quantize {
		tensor.ReLU6(pre.Data)
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		quantizeStochastic(pre.Data, opts.MinVal, opts.MaxVal, opts.Levels, rng)
	} else {
		tensor.ReLU(pre.Data)
	}

	values := tensor.NewMat(n, opts.K)
	indices := make([]int, n*opts.K)
	switch opts.Activation {
	case ActivationTopK:
		selectTopK(&values, indices, &pre, opts.K)
	case ActivationGroupMax:
		selectGroupMax(&values, indices, &pre, opts.K)
	}

	ctx := &Context{
		input:   input,
		weight:  weight,
		bias:    bias,
		indices: indices,
		n:       n,
		d:       input.C,
		m:       m,
		k:       opts.K,
	}
	return Output{Values: values, Indices: indices, PreActs: pre}, ctx, nil
}

// validate checks every precondition before any computation happens; all
// failures are terminal for the call.
func validate(input, weight *tensor.Mat, bias []float32, opts Options) error {
	if input == nil || weight == nil {
		return fmt.Errorf("%w: input and weight are required", ErrInvalidArgument)
	}
	if weight.C != input.C {
		return fmt.Errorf("%w: weight has %d columns, input has %d", ErrShapeMismatch, weight.C, input.C)
	}
	if bias != nil && len(bias) != weight.R {
		return fmt.Errorf("%w: bias has length %d, weight has %d rows", ErrShapeMismatch, len(bias), weight.R)
	}

	m := weight.R
	switch opts.Activation {
	case ActivationTopK:
	case ActivationGroupMax:
		if opts.K > 0 && m%opts.K != 0 {
			return fmt.Errorf("%w: groupmax requires k (%d) to divide the latent dimension (%d) evenly", ErrInvalidArgument, opts.K, m)
		}
	default:
		return fmt.Errorf("%w: unknown activation %q", ErrInvalidArgument, string(opts.Activation))
	}
	if opts.K <= 0 || opts.K > m {
		return fmt.Errorf("%w: k must be in [1, %d], got %d", ErrInvalidArgument, m, opts.K)
	}

	if opts.Quantize {
		if opts.Levels < 2 {
			return fmt.Errorf("%w: quantization needs at least 2 levels, got %d", ErrInvalidArgument, opts.Levels)
		}
		if opts.MaxVal <= opts.MinVal {
			return fmt.Errorf("%w: quantization range [%g, %g] is empty", ErrInvalidArgument, opts.MinVal, opts.MaxVal)
		}
	}
	return nil
}
