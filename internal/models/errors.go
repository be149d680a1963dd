package models

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned when a detection, routing or synthesis
	// call failed or timed out after the bounded retries.
	ErrBackendUnavailable = errors.New("detection backend unavailable")
	// ErrContentUnreachable is returned when linked content could not be fetched
	ErrContentUnreachable = errors.New("content unreachable")
	// ErrNotFound is returned by repositories when a keyed entity does not exist
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed input. No state is mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
