// Package apperr defines the error categories shared by every component.
// Package-level sentinels wrap one of these so handlers can map any domain
// error to a status code with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limited")
)

// Status maps an error to the HTTP status code a handler should return.
// Unknown errors map to 500.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err belongs to one of the caller-facing
// categories, i.e. its message is safe to return verbatim.
func IsClientError(err error) bool {
	return Status(err) < http.StatusInternalServerError
}
