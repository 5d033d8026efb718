package task

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error code returned at the
// service boundary. Callers should branch on codes, not messages.
type Code string

// Error codes returned by TaskService operations.
const (
	CodeExecutorNotFound         Code = "EXECUTOR_NOT_FOUND"
	CodeValidationFailed         Code = "VALIDATION_FAILED"
	CodeTaskCreationFailed       Code = "TASK_CREATION_FAILED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeInvalidStatus            Code = "INVALID_STATUS"
	CodeDependenciesNotSatisfied Code = "DEPENDENCIES_NOT_SATISFIED"
	CodeExecutionTimeout         Code = "EXECUTION_TIMEOUT"
	CodeMaxRetriesExceeded       Code = "MAX_RETRIES_EXCEEDED"
	CodeCancelFailed             Code = "CANCEL_FAILED"
	CodeRetryFailed              Code = "RETRY_FAILED"
	CodeExecutionFailed          Code = "EXECUTION_FAILED"
)

// Error is the typed error every public TaskService operation returns
// on failure. Validation and state-machine violations are reported this
// way with the task left unmutated; nothing raises past the service
// boundary without being wrapped in one of these.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a coded Error wrapping an optional cause.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf creates a coded Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the service error code from err. It returns the
// empty string when err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given service error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
