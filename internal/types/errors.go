package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a chart or blob does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status write would break the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// StorageError represents a blob or record persistence failure
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("storage error: %s", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ValidationError represents bad upload input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// TransitionError carries the rejected edge of an invalid status write.
type TransitionError struct {
	ChartID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("chart %s: cannot move from %s to %s", e.ChartID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
