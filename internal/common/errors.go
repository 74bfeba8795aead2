package common

import (
	"errors"
	"fmt"
)

// Common sentinel errors used across the application
var (
	ErrNilInput      = errors.New("nil input provided")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTimeout       = errors.New("operation timeout")

	// State errors
	ErrNotInitialized = errors.New("not initialized")
	ErrAlreadyStarted = errors.New("already started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrShuttingDown   = errors.New("shutting down")

	// Decision engine errors
	ErrUnknownRule      = errors.New("unknown rule")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrUnknownStrategy  = errors.New("unknown switching strategy")
	ErrSuppressed       = errors.New("rule suppressed")
	ErrExhausted        = errors.New("max attempts exhausted")
	ErrNoChange         = errors.New("no change applied")

	// Collaborator errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
)

// ValidationError represents a validation failure with field information
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// MultiError represents multiple errors that occurred
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors occurred: first error: %v (total: %d)", e.Errors[0], len(e.Errors))
}

// Add adds an error to the multi-error
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil if no errors, otherwise returns the MultiError
func (e *MultiError) ErrorOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// OperationError represents an error during a specific operation
type OperationError struct {
	Op     string // Operation being performed
	Entity string // Entity being operated on
	Err    error  // Underlying error
}

// Error implements the error interface
func (e OperationError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e OperationError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context
func WrapError(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		Op:     op,
		Entity: entity,
		Err:    err,
	}
}
