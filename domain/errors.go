package domain

import "errors"

// Error kinds shared by every component. Callers wrap them with context and the
// API layer maps them to codes with errors.Is.
var (
	// ErrValidation signals malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound signals an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrForbidden signals the caller lacks permission for the action.
	ErrForbidden = errors.New("authorization error")
	// ErrInvalidTransition signals a state machine violation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateQuote signals the agent already holds a pending quote on the request.
	ErrDuplicateQuote = errors.New("duplicate quote")
	// ErrConflict signals a uniqueness violation other than duplicate quotes.
	ErrConflict = errors.New("conflict")
)
