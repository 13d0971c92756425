package encoder

import (
	"math"

	"github.com/samcharles93/sparsify/internal/tensor"
)

// selectTopK fills values and indices with the k largest pre-activations of
// each row.  Rows are independent.  The output order within a row is the
// sorted order produced by the insertion scan; callers must not rely on it,
// only on values[j] == pre[row, indices[j]].
func selectTopK(values *tensor.Mat, indices []int, pre *tensor.Mat, k int) {
	for row := 0; row < pre.R; row++ {
		src := pre.Row(row)
		vals := values.Row(row)
		idx := indices[row*k : (row+1)*k]

		for j := 0; j < k; j++ {
			idx[j] = -1
			vals[j] = float32(math.Inf(-1))
		}

		for i, v := range src {
			insert := -1
			for j := 0; j < k; j++ {
				if v > vals[j] {
					insert = j
					break
				}
			}
			if insert == -1 {
				continue
			}
			for j := k - 1; j > insert; j-- {
				vals[j] = vals[j-1]
				idx[j] = idx[j-1]
			}
			vals[insert] = v
			idx[insert] = i
		}
	}
}

// selectGroupMax partitions the M columns of each row into k contiguous
// groups of size M/k and keeps the maximum of each group.  The in-group
// argmax is mapped to a global column index by adding the group offset, and
// the output follows group order.
func selectGroupMax(values *tensor.Mat, indices []int, pre *tensor.Mat, k int) {
	groupSize := pre.C / k
	for row := 0; row < pre.R; row++ {
		src := pre.Row(row)
		vals := values.Row(row)
		idx := indices[row*k : (row+1)*k]

		for g := 0; g < k; g++ {
			off := g * groupSize
			best := src[off]
			bestAt := off
			for i := off + 1; i < off+groupSize; i++ {
				if src[i] > best {
					best = src[i]
					bestAt = i
				}
			}
			vals[g] = best
			idx[g] = bestAt
		}
	}
}
