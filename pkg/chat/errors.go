package chat

import "strings"

// ValidationError reports why a submission was rejected before any state
// changed. It maps to a 400 response or an `error` socket event.
type ValidationError struct {
	Details []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// AsValidationError unwraps err as a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	ve, ok := err.(*ValidationError)
	return ve, ok
}
