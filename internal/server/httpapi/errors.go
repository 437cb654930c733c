// Package httpapi exposes the service operations as a JSON request/response
// API over chi. Service sentinel errors are mapped to structured responses.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/go-chi/render"
)

// APIError is the structured error body returned by every failing endpoint.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message}
}

// renderError maps a service error to its HTTP shape. Sentinels are matched
// with errors.Is; anything unrecognized is an opaque 500.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *APIError

	switch {
	case errors.Is(err, common.ErrValidation):
		apiErr = newAPIError(http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		apiErr = newAPIError(http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, common.ErrNotFound):
		apiErr = newAPIError(http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, common.ErrStateConflict):
		apiErr = newAPIError(http.StatusConflict, "STATE_CONFLICT", err.Error())
	case errors.Is(err, common.ErrExpired):
		apiErr = newAPIError(http.StatusGone, "EXPIRED", err.Error())
	case errors.Is(err, common.ErrSelfReference):
		apiErr = newAPIError(http.StatusUnprocessableEntity, "SELF_REFERENCE", err.Error())
	case errors.Is(err, common.ErrCrypto):
		apiErr = newAPIError(http.StatusUnprocessableEntity, "CRYPTO_ERROR", err.Error())
	case errors.Is(err, common.ErrExternalStore):
		apiErr = newAPIError(http.StatusBadGateway, "EXTERNAL_STORE_ERROR", "external store unavailable")
	default:
		apiErr = newAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
	}

	_ = render.Render(w, r, apiErr)
}
