package resilience

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that is safe to retry. Only server-side
// (5xx) responses are wrapped in it.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with the HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err, or any error in its chain, is a
// TransientError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsTransientHTTPStatus reports whether the status is a server error.
// Client errors, including 429, are permanent for census endpoints.
func IsTransientHTTPStatus(statusCode int) bool {
	return statusCode >= 500 && statusCode <= 599
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
