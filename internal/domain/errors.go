package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrUnavailable means no backend transport is reachable. Read paths
	// degrade to typed fallbacks; write paths surface it.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrNotFound means the backend answered and the entity does not exist.
	// Distinct from ErrUnavailable so callers can tell "unreachable" from
	// "absent".
	ErrNotFound = errors.New("not found")
)

// BackendError is an explicit error payload returned by the backend over
// an otherwise successful call.
type BackendError struct {
	Channel string
	Type    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend error on %s (%s): %s", e.Channel, e.Type, e.Message)
	}
	return fmt.Sprintf("backend error on %s: %s", e.Channel, e.Message)
}

// ValidationError means untrusted input failed validation. It is fatal to
// the single operation and never coerced away.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
