package encoder

import "errors"

var (
	// ErrInvalidArgument reports a parameter that violates the call contract,
	// such as an unknown activation name or a quantization grid with fewer
	// than two levels.
	ErrInvalidArgument = errors.New("invalid_argument")

	// ErrShapeMismatch reports tensors whose dimensions do not agree.
	ErrShapeMismatch = errors.New("shape_mismatch")
)
