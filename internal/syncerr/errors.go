// Package syncerr defines the error taxonomy shared by the local stores,
// the remote client, and the sync engine.
//
// ValidationError: malformed event or record, never retried.
// NetworkError: transient transport failure, retried with backoff.
// StorageError: local persistence failure, fatal to the current operation.
// Conflicts are never modeled as errors; they are materialized as
// SyncConflict records by the engine.
package syncerr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by remote lookups when the entity does not exist
var ErrNotFound = errors.New("record not found")

// ValidationError indicates a malformed event or record. It must be fixed at
// the source and is never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NetworkError indicates a transient transport failure (timeout, 5xx,
// unreachable host). Retried with backoff up to the attempt threshold.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DuplicateError indicates the remote already holds a record the local
// CREATE event tried to establish (e.g. a QR code collision). The engine
// materializes it as a CREATE_CREATE conflict.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %s already exists remotely", e.Entity, e.Key)
}

// StorageError indicates a local persistence failure. It aborts the current
// mutation and must never corrupt event log ordering.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetwork reports whether err is a NetworkError
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsDuplicate reports whether err is a DuplicateError
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

// IsNotFound reports whether err represents a missing remote record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage wraps err as a StorageError unless it is nil
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
