package api

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/sparsify/internal/tensor"
)

func newRequestID() string {
	return "enc_" + uuid.NewString()
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	return json.NewEncoder(res).Encode(v)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeErrorEnvelope(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeTooManyRequests(c *echo.Context, msg string) error {
	return writeErrorEnvelope(c, http.StatusTooManyRequests, "rate_limit_error", msg)
}

func writeErrorEnvelope(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, ErrorEnvelope{
		Error: ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}

// matFromRows flattens row-major JSON input into a Mat, checking that every
// row has the same length.
func matFromRows(rows [][]float32, what string) (*tensor.Mat, error) {
	if len(rows) == 0 {
		return nil, newInvalidRequest(what + " must have at least one row")
	}
	c := len(rows[0])
	if c == 0 {
		return nil, newInvalidRequest(what + " rows must not be empty")
	}
	data := make([]float32, 0, len(rows)*c)
	for _, row := range rows {
		if len(row) != c {
			return nil, newInvalidRequest(what + " rows have inconsistent lengths")
		}
		data = append(data, row...)
	}
	m := tensor.NewMatFromData(len(rows), c, data)
	return &m, nil
}

func rowsFromMat(m *tensor.Mat) [][]float32 {
	rows := make([][]float32, m.R)
	for i := range rows {
		row := make([]float32, m.C)
		copy(row, m.Row(i))
		rows[i] = row
	}
	return rows
}

func rowsFromIndices(indices []int, n, k int) [][]int {
	rows := make([][]int, n)
	for i := range rows {
		rows[i] = indices[i*k : (i+1)*k]
	}
	return rows
}
