// Package errors defines the hub's error taxonomy: typed kinds with a
// transient/permanent classification used by the worker loop's retry policy
// and by the Hub API's HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError is bad input at the API boundary; surfaced as HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError is a missing entity; surfaced as HTTP 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError is an illegal state transition; surfaced as HTTP 409.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// StorageUnavailable is a transient relational/object/log store failure;
// surfaced as HTTP 503 and retried at the call site when safe.
type StorageUnavailable struct {
	Err     error
	Message string
}

func (e *StorageUnavailable) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e *StorageUnavailable) Unwrap() error { return e.Err }

func NewStorageUnavailable(err error, message string) *StorageUnavailable {
	return &StorageUnavailable{Err: err, Message: message}
}

// ExecutionErrorKind enumerates the executor adapter's non-timeout failure modes.
type ExecutionErrorKind string

const (
	ExecutionErrorDriverInit    ExecutionErrorKind = "driver_init"
	ExecutionErrorDriverRuntime ExecutionErrorKind = "driver_runtime"
	ExecutionErrorDriverAuth    ExecutionErrorKind = "driver_auth"
)

// ExecutionError wraps a driver failure that is not a timeout.
type ExecutionError struct {
	Kind ExecutionErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func NewExecutionError(kind ExecutionErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// ExecutionTimeout is raised when a driver invocation exceeds its
// deadline. It never retries at the call site.
type ExecutionTimeout struct {
	TimeoutSeconds int
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("execution timeout: driver timed out after %ds", e.TimeoutSeconds)
}

func NewExecutionTimeout(seconds int) *ExecutionTimeout {
	return &ExecutionTimeout{TimeoutSeconds: seconds}
}

// ShutdownInterrupted marks a task force-finalized because the worker
// process was asked to terminate mid-execution.
type ShutdownInterrupted struct{}

func (e *ShutdownInterrupted) Error() string { return "worker shutdown interrupted task" }

// TaskCancelled marks a task finalized because an operator requested
// cancellation (POST /admin/tasks/{id}/cancel) and the worker's progress
// pump, on seeing the flag, stopped the driver.
type TaskCancelled struct{}

func (e *TaskCancelled) Error() string { return "task cancelled by operator" }

func NewTaskCancelled() *TaskCancelled { return &TaskCancelled{} }

// IsTransient reports whether err should be retried by the caller.
// StorageUnavailable is always transient; everything else is not.
func IsTransient(err error) bool {
	var su *StorageUnavailable
	return errors.As(err, &su)
}

// IsPermanent reports whether err represents a client-caused failure that
// retrying cannot fix.
func IsPermanent(err error) bool {
	var ve *ValidationError
	var ne *NotFoundError
	var ce *ConflictError
	return errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &ce)
}

// HTTPStatus maps an error kind to its status code. Unknown errors fall
// through to 500.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var ne *NotFoundError
	var ce *ConflictError
	var su *StorageUnavailable
	switch {
	case errors.As(err, &ve):
		return 400
	case errors.As(err, &ne):
		return 404
	case errors.As(err, &ce):
		return 409
	case errors.As(err, &su):
		return 503
	default:
		return 500
	}
}
