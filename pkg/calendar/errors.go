package calendar

import (
	"errors"
	"net/http"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrParse      = errors.New("parse error")
	ErrNetwork    = errors.New("network error")
	ErrAuth       = errors.New("authentication rejected")
	ErrStorage    = errors.New("storage error")
)

// HTTPStatus maps the error taxonomy onto response codes of the command API.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the sync engine retries err with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrStorage)
}
