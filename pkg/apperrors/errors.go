// Package apperrors defines the error kinds shared by the record store and the
// analysis pipeline.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below unwraps to exactly one of them.
var (
	ErrValidation   = errors.New("validation failed")
	ErrCollaborator = errors.New("completion collaborator failed")
	ErrStore        = errors.New("record store failure")
	ErrNotFound     = errors.New("record not found")
)

// ValidationError reports structurally rejected input.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed: %s: %s (got %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation is a shorthand constructor for ValidationError.
func Validation(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// CollaboratorError wraps a failed, timed out or unparseable completion call.
type CollaboratorError struct {
	Op    string
	Cause error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Op, e.Cause)
}

func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaborator, e.Cause} }

// StoreError reports a durability failure. It is fatal for the request.
type StoreError struct {
	Op    string
	ID    uint64
	Cause error
}

func (e *StoreError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store %s (record %d): %v", e.Op, e.ID, e.Cause)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Cause} }

// NotFoundError is returned for lookups by unknown id.
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %d", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Error type labels used in metrics and traces.
const (
	TypeValidation   = "validation"
	TypeNotFound     = "not_found"
	TypeStore        = "store"
	TypeCollaborator = "collaborator"
	TypeTimeout      = "timeout"
	TypeCanceled     = "canceled"
	TypeUnknown      = "unknown"
)

// Classify maps an error onto a low-cardinality label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return TypeTimeout
	case errors.Is(err, context.Canceled):
		return TypeCanceled
	case errors.Is(err, ErrValidation):
		return TypeValidation
	case errors.Is(err, ErrNotFound):
		return TypeNotFound
	case errors.Is(err, ErrStore):
		return TypeStore
	case errors.Is(err, ErrCollaborator):
		return TypeCollaborator
	default:
		return TypeUnknown
	}
}

// Status is Classify with "ok" for a nil error, for use as a metric label.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return Classify(err)
}
