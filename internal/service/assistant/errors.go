package assistant

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned to callers that validate input before Respond.
var ErrEmptyMessage = errors.New("message is required")

// ServiceError reports a failure of the language model backend.
type ServiceError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("assistant unavailable: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err wraps a ServiceError.
func IsServiceError(err error) bool {
	var target *ServiceError
	return errors.As(err, &target)
}
