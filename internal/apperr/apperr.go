// Package apperr defines the error kinds shared by services and the HTTP layer.
//
// Specific errors wrap exactly one kind, e.g.
//
//	var ErrEmptyFile = fmt.Errorf("%w: file is empty", apperr.ErrValidation)
//
// so callers can match either the specific error or its kind with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks bad user input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing song, user or stored object.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an ownership or role mismatch.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a uniqueness violation (e.g. email already registered).
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBackendUnavailable marks a misconfigured or uninitialized storage backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrIOFailure marks a disk or network failure during save or delete.
	ErrIOFailure = errors.New("io failure")
)

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsBusiness reports whether err is a user-facing business error whose
// message is safe to return to the caller verbatim.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}
