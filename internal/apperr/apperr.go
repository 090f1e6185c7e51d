// Package apperr holds error types shared by the service layer and the HTTP boundary.
package apperr

import "strings"

// ValidationError reports bad client input. The HTTP layer renders it as a 400.
type ValidationError struct {
	Message string
	Details []string
	// Cause is an optional sentinel callers can match with errors.Is.
	Cause error
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Invalid returns a ValidationError with an optional list of field messages.
func Invalid(message string, details ...string) error {
	return &ValidationError{Message: message, Details: details}
}

// NotFoundError reports a record that does not exist or is not the caller's.
// The HTTP layer renders it as a 404.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NotFound(message string) error {
	return &NotFoundError{Message: message}
}
