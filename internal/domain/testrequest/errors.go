package testrequest

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("Invalid ID")
	ErrValidation        = errors.New("constraint violation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("test request was modified concurrently")
	ErrDuplicate         = errors.New("A Request with same PhoneNumber or Email is already in progress")
	ErrInconsistentState = errors.New("test request state is inconsistent")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports an operation that is not legal from the current status.
type TransitionError struct {
	From RequestStatus
	Op   Operation
}

func (e *TransitionError) Error() string {
	if _, ok := transitions[e.Op]; !ok {
		return fmt.Sprintf("%s: unknown operation %q", ErrInvalidTransition, e.Op)
	}
	return fmt.Sprintf("%s: %s not allowed from %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(id int64) error {
	return fmt.Errorf("test request %d: %w", id, ErrNotFound)
}
