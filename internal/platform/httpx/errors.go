// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps transport-level errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		WriteProblem(w, ProblemDetail{Status: http.StatusNotFound, Title: "Not Found", Detail: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, ErrValidation):
		WriteProblem(w, ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed", Detail: err.Error(), Code: "VALIDATION_ERROR"})
	case errors.Is(err, ErrForbidden):
		WriteProblem(w, ProblemDetail{Status: http.StatusForbidden, Title: "Forbidden", Code: "FORBIDDEN"})
	case errors.Is(err, ErrUnauthorized):
		WriteProblem(w, ProblemDetail{Status: http.StatusUnauthorized, Title: "Unauthorized", Detail: err.Error(), Code: "UNAUTHORIZED"})
	default:
		WriteProblem(w, ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error", Code: "INTERNAL"})
	}
}
