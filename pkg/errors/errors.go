// Package errors provides common domain error types for penf-chat.
//
// This package defines sentinel errors for conditions like "not found" or
// "persistence failure" that are shared by the mention store, the responder
// directory and the processor. Using typed errors enables consistent error
// handling with errors.Is() checks.
//
// Usage:
//
//	import pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
//
//	// Return a domain error
//	return nil, fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
//
//	// Check for domain errors
//	if pferrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrPersistence indicates an underlying write to the database failed.
	ErrPersistence = errors.New("persistence error")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrNotVisible indicates an entity exists but is not visible from the
	// requesting workspace.
	ErrNotVisible = errors.New("not visible")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPersistence reports whether any error in err's chain is ErrPersistence.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotVisible reports whether any error in err's chain is ErrNotVisible.
func IsNotVisible(err error) bool {
	return errors.Is(err, ErrNotVisible)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
