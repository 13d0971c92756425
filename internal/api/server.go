package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/sparsify/internal/encoder"
	"github.com/samcharles93/sparsify/internal/logger"
)

// Server exposes the fused encoder over HTTP.
type Server struct {
	log     logger.Logger
	limiter *rate.Limiter
}

// NewServer builds a server.  rps limits /v1/encode requests per second with
// the given burst; rate.Inf disables limiting.
func NewServer(log logger.Logger, rps rate.Limit, burst int) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		log:     log,
		limiter: rate.NewLimiter(rps, burst),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/encode", s.handleEncode)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEncode(c *echo.Context) error {
	if !s.limiter.Allow() {
		return writeTooManyRequests(c, "encode rate limit exceeded")
	}

	req, err := decodeJSON[EncodeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "malformed JSON: "+err.Error())
	}

	input, err := matFromRows(req.Input, "input")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	weight, err := matFromRows(req.Weight, "weight")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	opts := encoder.Options{
		K:          req.K,
		Activation: encoder.ActivationTopK,
		Quantize:   req.Quantize,
		Levels:     req.Levels,
	}
	if req.Activation != "" {
		opts.Activation = encoder.Activation(req.Activation)
	}
	if req.MinVal != nil {
		opts.MinVal = *req.MinVal
	}
	if req.MaxVal != nil {
		opts.MaxVal = *req.MaxVal
	} else if req.Quantize {
		opts.MaxVal = 6
	}

	out, _, err := encoder.Encode(input, weight, req.Bias, opts)
	if err != nil {
		if errors.Is(err, encoder.ErrInvalidArgument) || errors.Is(err, encoder.ErrShapeMismatch) {
			return writeBadRequest(c, err.Error())
		}
		s.log.Error("encode failed", "error", err)
		return writeErrorEnvelope(c, http.StatusInternalServerError, "server_error", "encode failed")
	}

	resp := EncodeResponse{
		ID:      newRequestID(),
		Values:  rowsFromMat(&out.Values),
		Indices: rowsFromIndices(out.Indices, input.R, opts.K),
		Shape: ResponseShape{
			N: input.R,
			D: input.C,
			M: weight.R,
			K: opts.K,
		},
	}
	if req.IncludePreActs {
		resp.PreActs = rowsFromMat(&out.PreActs)
	}

	s.log.Debug("encode", "id", resp.ID, "n", resp.Shape.N, "d", resp.Shape.D, "m", resp.Shape.M, "k", resp.Shape.K)
	return writeJSON(c, http.StatusOK, resp)
}
