// Package domain defines the error taxonomy shared by the aggregates.
// Callers classify with errors.Is against the exported kinds.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized: command issued before Initialize. Non-retryable.
	ErrNotInitialized = errors.New("not initialized")

	// ErrInvalidStateTransition: workflow state machine violated.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrPreconditionViolation: business rule violated.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrConflict: the entity already exists or was already consumed.
	ErrConflict = errors.New("conflict")

	// ErrNotFound: referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

func NotInitialized(what string) error {
	return fmt.Errorf("%w: %s", ErrNotInitialized, what)
}

func InvalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}

func Precondition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPreconditionViolation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
