package tensor

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	i := 0
	for ; i+3 < len(a); i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Axpy computes dst[i] += alpha * x[i].
func Axpy(dst []float32, alpha float32, x []float32) {
	for i := range dst {
		dst[i] += alpha * x[i]
	}
}

// ReLU clamps negative values of x to zero in place.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// ReLU6 clamps x into [0, 6] in place.  The fixed ceiling keeps activations
// in a bounded range suitable for a quantization grid.
func ReLU6(x []float32) {
	for i, v := range x {
		switch {
		case v < 0:
			x[i] = 0
		case v > 6:
			x[i] = 6
		}
	}
}
