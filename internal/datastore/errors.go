package datastore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no row matches the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden is returned when the caller may not access the row.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed fields or unknown columns.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownTable is returned for tables the backend does not expose.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("data store unavailable")
	// ErrTransportInterrupted ends a subscription whose connection was lost
	// and could not be re-established.
	ErrTransportInterrupted = errors.New("change feed transport interrupted")
)

// IsPermanent reports whether retrying the call cannot change the outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownTable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
