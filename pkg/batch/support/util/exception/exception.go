// Package exception provides the error taxonomy shared by every chunkflow component.
// Errors are wrapped in BatchError, which records the module that raised them and whether
// the failure is worth retrying. Error kinds are sentinels so callers classify with errors.Is.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel error kinds.
var (
	// ErrMalformedInput marks a source line that could not be parsed.
	ErrMalformedInput = errors.New("malformed input")
	// ErrTransformFailure marks a record the transformer rejected.
	ErrTransformFailure = errors.New("transform failure")
	// ErrSinkWrite marks a destination write that failed after its retry budget.
	ErrSinkWrite = errors.New("sink write failure")
	// ErrAlreadyRunning is returned when an execution with the same identity is not yet terminal.
	ErrAlreadyRunning = errors.New("job execution already running")
	// ErrAlreadyComplete is returned when an execution with the same identity already completed.
	ErrAlreadyComplete = errors.New("job instance already complete")
	// ErrNotFound is returned when a job or execution is unknown.
	ErrNotFound = errors.New("not found")
	// ErrNotRestartable is returned when a restart targets a completed or running execution.
	ErrNotRestartable = errors.New("job execution not restartable")
	// ErrInvalidArgument is returned for arguments outside the accepted domain.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOptimisticLockingFailure indicates a concurrent modification of a versioned row.
	ErrOptimisticLockingFailure = errors.New("optimistic locking failure")
)

// BatchError is the error type raised during batch processing.
type BatchError struct {
	// Module is where the error occurred (e.g., "reader", "writer", "JobLauncher").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

// NewBatchError creates a new BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewBatchErrorf creates a non-retryable, non-skippable BatchError with a formatted message.
// If the last argument is an error it becomes the wrapped cause.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var cause error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			cause = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), cause, false, false)
}

// newKindError joins a sentinel kind with an optional cause.
func newKindError(kind error, module, message string, cause error, retryable bool) *BatchError {
	wrapped := kind
	if cause != nil {
		wrapped = errors.Join(kind, cause)
	}
	return NewBatchError(module, message, wrapped, false, retryable)
}

// NewTransformFailure reports a record rejected by a transformer.
func NewTransformFailure(module, message string, cause error) *BatchError {
	return newKindError(ErrTransformFailure, module, message, cause, false)
}

// NewSinkWriteFailure reports a destination write failure.
func NewSinkWriteFailure(module, message string, cause error) *BatchError {
	return newKindError(ErrSinkWrite, module, message, cause, true)
}

// NewAlreadyRunningError reports a launch conflict with a non-terminal execution.
func NewAlreadyRunningError(module, message string) *BatchError {
	return newKindError(ErrAlreadyRunning, module, message, nil, false)
}

// NewAlreadyCompleteError reports a launch conflict with a completed execution.
func NewAlreadyCompleteError(module, message string) *BatchError {
	return newKindError(ErrAlreadyComplete, module, message, nil, false)
}

// NewNotFoundError reports an unknown job or execution.
func NewNotFoundError(module, message string, cause error) *BatchError {
	return newKindError(ErrNotFound, module, message, cause, false)
}

// NewNotRestartableError reports an execution that cannot be restarted.
func NewNotRestartableError(module, message string) *BatchError {
	return newKindError(ErrNotRestartable, module, message, nil, false)
}

// NewInvalidArgumentError reports an argument outside the accepted domain.
func NewInvalidArgumentError(module, message string) *BatchError {
	return newKindError(ErrInvalidArgument, module, message, nil, false)
}

// NewOptimisticLockingFailureException reports a concurrent modification of a versioned row.
func NewOptimisticLockingFailureException(module, message string, cause error) *BatchError {
	return newKindError(ErrOptimisticLockingFailure, module, message, cause, false)
}

// MalformedRecordError is raised by a record source for a line it cannot parse.
type MalformedRecordError struct {
	// Line is the 1-based physical line number in the input.
	Line int
	// Reason describes what was wrong with the line.
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// Is lets errors.Is(err, ErrMalformedInput) match.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedInput
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError determines if err is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary determines if an error is worth retrying.
// A BatchError's retryable flag takes precedence over message heuristics.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "leader not available")
}

// IsControlPlaneError reports whether err is one of the launch/query/stop/restart kinds.
func IsControlPlaneError(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrAlreadyComplete) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotRestartable)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
