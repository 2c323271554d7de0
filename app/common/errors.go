package common

import (
	"errors"
	"fmt"
)

type UserVisibleError struct {
	HttpCode int
	Message  string
}

func (e *UserVisibleError) Error() string {
	return fmt.Sprintf("Error %d: %s", e.HttpCode, e.Message)
}

func NewUserVisibleError(httpCode int, message string) *UserVisibleError {
	return &UserVisibleError{
		HttpCode: httpCode,
		Message:  message,
	}
}

func WrapErrorForResponse(err error, message string) error {
	if e, ok := err.(*UserVisibleError); ok {
		return &UserVisibleError{
			HttpCode: e.HttpCode,
			Message:  fmt.Sprintf("%s: %s", message, e.Message),
		}
	}
	return err
}

var (
	// ErrStorageTimeout is returned when opening the database does not finish
	// within the configured bound. The open itself is not cancelled.
	ErrStorageTimeout = errors.New("storage timeout: database did not open in time")

	// ErrBlocked means another connection holds a lock that prevents a schema
	// upgrade. Close other instances of the application and retry.
	ErrBlocked = errors.New("database upgrade blocked by another open connection")

	// ErrRebuildRequired is returned by Init when the stored schema is too old
	// to be upgraded in place.
	ErrRebuildRequired = errors.New("database schema requires a rebuild")
)

// ConnectionError wraps failures to open or upgrade the database.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not open database %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransactionAborted reports a failed multi-record write. Nothing from the
// batch was persisted.
type TransactionAborted struct {
	Store string
	Count int
	Err   error
}

func (e *TransactionAborted) Error() string {
	return fmt.Sprintf("transaction on %s aborted (%d records discarded): %v", e.Store, e.Count, e.Err)
}

func (e *TransactionAborted) Unwrap() error { return e.Err }

// NotFoundError is only used by update-style operations, where the target
// must already exist. Plain lookups return nil instead.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ValidationError describes an imported record missing identity fields.
type ValidationError struct {
	Kind   string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s at position %d: %s", e.Kind, e.Index, e.Reason)
}

// SeedFailure wraps the error which aborted a seeding run. The seed version
// is left untouched so the next launch retries.
type SeedFailure struct {
	Stage string
	Err   error
}

func (e *SeedFailure) Error() string {
	return fmt.Sprintf("seeding failed during %s: %v", e.Stage, e.Err)
}

func (e *SeedFailure) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
