package storage

import (
	"errors"
	"fmt"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a document is not found.
	ErrNotFound = errors.New("document not found")

	// ErrNotConnected is returned when an operation runs before Connect.
	ErrNotConnected = errors.New("store not connected")

	// ErrEmptyUpdate is returned when an update carries no fields.
	ErrEmptyUpdate = errors.New("empty update set")
)

// InvalidIDError reports an id argument that is not a 24-character hex
// ObjectId. Callers at the HTTP boundary map it to VALIDATION_ERROR.
type InvalidIDError struct {
	Field string
	ID    string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s: %q is not a 24-character hex id", e.Field, e.ID)
}

// IsInvalidID reports whether err is an id validation failure.
func IsInvalidID(err error) bool {
	var invalid *InvalidIDError
	return errors.As(err, &invalid)
}
