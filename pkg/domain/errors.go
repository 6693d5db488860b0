package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a direct key lookup misses. Absence is a valid
// terminal state for callers, not a failure: it never escalates past the
// operation that observed it.
type ErrNotFound struct {
	Entity EntityType
	Key    string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// ValidationError rejects a count submission before anything is written.
// Field names the first input that failed; submission stops at the first
// failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ErrStoreUnavailable indicates the durable engine could not be opened.
// Callers degrade to a memory-only store for the remainder of the session.
var ErrStoreUnavailable = errors.New("persistent store unavailable")

// ErrImportInFlight indicates a replace-all import was refused because
// another import on the same collection has not finished.
var ErrImportInFlight = errors.New("import already in flight for collection")
