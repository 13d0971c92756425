package encoder

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/samcharles93/sparsify/internal/tensor"
)

// GradRequest signals per-tensor which gradients the caller actually needs.
// Skipped gradients stay nil in the result.
type GradRequest struct {
	Input  bool
	Weight bool
	Bias   bool
}

// Gradients holds the backward results.  A nil field means the gradient was
// not requested (or, for Bias, that no bias participated in the forward
// pass).  k, the activation name and the quantization parameters are
// discrete configuration and never receive gradients.
type Gradients struct {
	Input  *tensor.Mat
	Weight *tensor.Mat
	Bias   []float32
}

// Backward computes the sparse gradient of the fused encoder given the
// upstream gradient with respect to the selected values, shape (N, K).
// Upstream gradients for the indices and the dense pre-activations are
// structurally zero and are not accepted.
//
// No dense (N, M) intermediate is formed:
//
//   - grad input row n is the sum of the K selected weight rows, each scaled
//     by its value gradient (an embedding bag with per-sample weights).
//   - grad weight accumulates the outer product gradValues[n,j] * input[n]
//     into row indices[n,j]; collisions between (n, j) pairs targeting the
//     same latent add up, never overwrite.
//   - grad bias accumulates gradValues[n,j] into indices[n,j] by the same
//     collision rule.
//
// Quantization follows the straight-through convention: the rounding step is
// treated as identity, so the quantized and plain paths share this routine.
func (c *Context) Backward(gradValues *tensor.Mat, req GradRequest) (Gradients, error) {
	if gradValues == nil {
		return Gradients{}, fmt.Errorf("%w: gradValues is required", ErrInvalidArgument)
	}
	if gradValues.R != c.n || gradValues.C != c.k {
		return Gradients{}, fmt.Errorf("%w: gradValues is (%d, %d), forward produced (%d, %d)",
			ErrShapeMismatch, gradValues.R, gradValues.C, c.n, c.k)
	}

	var grads Gradients

	if req.Input {
		grads.Input = c.gradInput(gradValues)
	}

	if req.Weight {
		gw := tensor.NewMat(c.m, c.d)
		for n := 0; n < c.n; n++ {
			in := c.input.Row(n)
			gv := gradValues.Row(n)
			idx := c.indices[n*c.k : (n+1)*c.k]
			for j := 0; j < c.k; j++ {
				tensor.Axpy(gw.Row(idx[j]), gv[j], in)
			}
		}
		grads.Weight = &gw
	}

	if req.Bias && c.bias != nil {
		gb := make([]float32, c.m)
		for n := 0; n < c.n; n++ {
			gv := gradValues.Row(n)
			idx := c.indices[n*c.k : (n+1)*c.k]
			for j := 0; j < c.k; j++ {
				gb[idx[j]] += gv[j]
			}
		}
		grads.Bias = gb
	}

	return grads, nil
}

// gradInput computes the (N, D) input gradient.  Rows are independent, so
// they are sharded across goroutines; each row only reads weight rows and
// writes its own output row, keeping the scatter race-free.
func (c *Context) gradInput(gradValues *tensor.Mat) *tensor.Mat {
	gi := tensor.NewMat(c.n, c.d)

	workers := runtime.GOMAXPROCS(0)
	if workers > c.n {
		workers = c.n
	}
	if workers <= 1 {
		c.gradInputRange(&gi, gradValues, 0, c.n)
		return &gi
	}

	var wg sync.WaitGroup
	chunk := (c.n + workers - 1) / workers
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := rs + chunk
		if re > c.n {
			re = c.n
		}
		if rs >= re {
			break
		}
		wg.Add(1)
		go func(rs, re int) {
			defer wg.Done()
			c.gradInputRange(&gi, gradValues, rs, re)
		}(rs, re)
	}
	wg.Wait()
	return &gi
}

func (c *Context) gradInputRange(gi *tensor.Mat, gradValues *tensor.Mat, rs, re int) {
	for n := rs; n < re; n++ {
		out := gi.Row(n)
		gv := gradValues.Row(n)
		idx := c.indices[n*c.k : (n+1)*c.k]
		for j := 0; j < c.k; j++ {
			tensor.Axpy(out, gv[j], c.weight.Row(idx[j]))
		}
	}
}
