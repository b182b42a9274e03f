package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/metrics"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrModelNotFound  = errors.New("model not found")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// ErrorBody is the OpenAI error envelope payload.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return c.JSON(status, errorResponse{Error: ErrorBody{Message: msg, Type: errType, Code: code}})
}

// classify maps an engine or provider error to its HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, inference.ErrConfiguration),
		errors.Is(err, inference.ErrContextOverflow),
		errors.Is(err, inference.ErrTokenization):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, inference.ErrBusy):
		return http.StatusTooManyRequests, "rate_limit_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func writeEngineError(c *echo.Context, err error) error {
	status, typ := classify(err)
	metrics.Errors.WithLabelValues("http_" + typ).Inc()
	return writeError(c, status, typ, err.Error(), "")
}
