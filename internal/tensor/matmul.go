package tensor

import (
	"runtime"
	"sync"
)

type matMulTask struct {
	dst    *Mat
	a, b   *Mat
	bias   []float32
	rs, re int
	done   chan struct{}
}

type matMulPool struct {
	size      int
	tasks     chan matMulTask
	doneSlots chan chan struct{}
}

var matMulWorkPool *matMulPool

var matMulPoolOnce sync.Once

func getMatMulPool() *matMulPool {
	matMulPoolOnce.Do(func() {
		matMulWorkPool = newMatMulPool()
	})
	return matMulWorkPool
}

func newMatMulPool() *matMulPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &matMulPool{
		size:      size,
		tasks:     make(chan matMulTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				matMulTRange(task.dst, task.a, task.b, task.bias, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// MatMulT computes dst = a * b^T (+ bias), where a is (N x D), b is (M x D)
// and dst is (N x M).  bias may be nil; otherwise it must have length M and
// is added to every output row.  Rows of a are sharded across a persistent
// worker pool.
func MatMulT(dst, a, b *Mat, bias []float32) {
	if a.R == 0 || b.R == 0 {
		return
	}
	if a.C != b.C {
		panic("matmul inner dimension mismatch")
	}
	if dst.R < a.R || dst.C < b.R {
		panic("matmul dst shape mismatch")
	}
	if bias != nil && len(bias) < b.R {
		panic("matmul bias length mismatch")
	}

	pool := getMatMulPool()
	workers := pool.size
	if workers > a.R {
		workers = a.R
	}

	if workers <= 1 {
		matMulTRange(dst, a, b, bias, 0, a.R)
		return
	}

	chunk := (a.R + workers - 1) / workers
	done := <-pool.doneSlots

	activeWorkers := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := rs + chunk
		if re > a.R {
			re = a.R
		}
		if rs >= re {
			break
		}
		activeWorkers++
		pool.tasks <- matMulTask{
			dst:  dst,
			a:    a,
			b:    b,
			bias: bias,
			rs:   rs,
			re:   re,
			done: done,
		}
	}

	for i := 0; i < activeWorkers; i++ {
		<-done
	}
	pool.doneSlots <- done
}

func matMulTRange(dst, a, b *Mat, bias []float32, rs, re int) {
	for i := rs; i < re; i++ {
		ar := a.Row(i)
		out := dst.Row(i)
		for m := 0; m < b.R; m++ {
			sum := Dot(ar, b.Row(m))
			if bias != nil {
				sum += bias[m]
			}
			out[m] = sum
		}
	}
}
