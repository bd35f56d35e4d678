package api

import (
	"errors"
	"fmt"
	"net/http"

	"freightflow/auth"
	"freightflow/domain"
)

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "AUTHORIZATION_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeDuplicateQuote    = "DUPLICATE_QUOTE"
	CodeConflict          = "CONFLICT"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeInternal          = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// classify maps an error kind onto the wire code and HTTP status. Unknown
// errors are reported as internal without leaking their text.
func classify(err error) (string, int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, errUnauthenticated):
		return CodeUnauthenticated, http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation, http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound, http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return CodeForbidden, http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrInvalidTransition):
		return CodeInvalidTransition, http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrDuplicateQuote):
		return CodeDuplicateQuote, http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict, http.StatusConflict, err.Error()
	default:
		return CodeInternal, http.StatusInternalServerError, "internal error"
	}
}

var (
	errUnauthenticated  = errors.New("api: authentication required")
	errUnknownProcedure = fmt.Errorf("api: unknown procedure: %w", domain.ErrNotFound)
	errIdempotencyInUse = fmt.Errorf("api: idempotency key in use: %w", domain.ErrConflict)
	errBadBody          = fmt.Errorf("api: malformed request body: %w", domain.ErrValidation)
	errIdempotencyReuse = fmt.Errorf("api: idempotency key reused with a different body: %w", domain.ErrConflict)
)
