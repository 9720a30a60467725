// Package sessionerr defines the error kinds raised by the document
// session engine, following the constructor-function convention used by
// the SDK's domain error types.
package sessionerr

import "fmt"

// InvalidArgumentError is raised for caller mistakes that leave session
// state unchanged: saving a Document or Index object, or a nil entity.
type InvalidArgumentError struct {
	Operation string
	Reason    string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument for %s: %s", e.Operation, e.Reason)
}

// NewInvalidArgumentError creates a new InvalidArgumentError.
func NewInvalidArgumentError(operation, reason string) *InvalidArgumentError {
	return &InvalidArgumentError{Operation: operation, Reason: reason}
}

// InvalidOperationError is raised for configuration or protocol errors
// that abort the in-progress commit: deleting an entity with no Id
// property, reducing a descriptor with no group key, or a reduce fold
// returning nil when a non-nil result is required.
type InvalidOperationError struct {
	Operation string
	Reason    string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s: %s", e.Operation, e.Reason)
}

// NewInvalidOperationError creates a new InvalidOperationError.
func NewInvalidOperationError(operation, reason string) *InvalidOperationError {
	return &InvalidOperationError{Operation: operation, Reason: reason}
}

// BackendError wraps a failure surfaced by storage, the connection, or a
// journaled command. The in-progress commit is aborted; no rollback is
// performed implicitly, callers must Cancel before Dispose.
type BackendError struct {
	Operation string
	Cause     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error during %s: %v", e.Operation, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// NewBackendError wraps cause as a BackendError, or returns nil if cause
// is nil.
func NewBackendError(operation string, cause error) *BackendError {
	if cause == nil {
		return nil
	}
	return &BackendError{Operation: operation, Cause: cause}
}
