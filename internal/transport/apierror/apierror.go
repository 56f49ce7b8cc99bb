// Package apierror maps domain errors to HTTP statuses and error envelopes.
package apierror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// Error types carried in the envelope.
const (
	TypeInvalidRequest    = "invalid_request_error"
	TypeRateLimited       = "rate_limited"
	TypeStreamStartFailed = "stream_start_failed"
	TypeStreamFailed      = "stream_failed"
	TypeStreamInFlight    = "stream_in_flight"
	TypeForbidden         = "forbidden"
	TypeNotFound          = "not_found"
	TypeInternal          = "internal_error"
)

// Classify returns the HTTP status and error type for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, TypeRateLimited
	case errors.Is(err, domain.ErrStreamStartFailed):
		return http.StatusBadGateway, TypeStreamStartFailed
	case errors.Is(err, domain.ErrStreamFailed):
		return http.StatusBadGateway, TypeStreamFailed
	case errors.Is(err, domain.ErrStreamInFlight):
		return http.StatusConflict, TypeStreamInFlight
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, TypeInvalidRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, TypeForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, TypeNotFound
	default:
		return http.StatusInternalServerError, TypeInternal
	}
}

// Envelope builds the error body for err.
func Envelope(err error) llm.ErrorResponse {
	_, typ := Classify(err)
	return llm.ErrorResponse{Error: &llm.APIError{Message: err.Error(), Type: typ}}
}

// Write responds with the status and envelope for err.
func Write(c echo.Context, err error) error {
	status, _ := Classify(err)
	return c.JSON(status, Envelope(err))
}

// BadRequest responds 400 with message.
func BadRequest(c echo.Context, message, param string) error {
	return c.JSON(http.StatusBadRequest, llm.ErrorResponse{
		Error: &llm.APIError{
			Message: message,
			Type:    TypeInvalidRequest,
			Param:   param,
		},
	})
}
