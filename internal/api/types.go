package api

// EncodeRequest is the body of POST /v1/encode.  Input is (N, D) row-major,
// Weight is (M, D) row-major, Bias has length M or is omitted.
type EncodeRequest struct {
	Input  [][]float32 `json:"input"`
	Weight [][]float32 `json:"weight"`
	Bias   []float32   `json:"bias,omitempty"`

	K          int    `json:"k"`
	Activation string `json:"activation,omitempty"` // "topk" (default) or "groupmax"

	Quantize bool     `json:"quantize,omitempty"`
	MinVal   *float32 `json:"min_val,omitempty"`
	MaxVal   *float32 `json:"max_val,omitempty"`
	Levels   int      `json:"levels,omitempty"`

	// IncludePreActs echoes the dense (N, M) pre-activations back.  Off by
	// default: the matrix is large and only useful for diagnostics.
	IncludePreActs bool `json:"include_pre_acts,omitempty"`
}

// EncodeResponse carries the selected values and indices per input row.
type EncodeResponse struct {
	ID      string        `json:"id"`
	Values  [][]float32   `json:"values"`
	Indices [][]int       `json:"indices"`
	PreActs [][]float32   `json:"pre_acts,omitempty"`
	Shape   ResponseShape `json:"shape"`
}

type ResponseShape struct {
	N int `json:"n"`
	D int `json:"d"`
	M int `json:"m"`
	K int `json:"k"`
}

// ErrorEnvelope is the uniform error body.
type ErrorEnvelope struct {
	Error ResponseError `json:"error"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
