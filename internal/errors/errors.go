package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a download error. The worker pool converts every error it
// catches into an outcome tagged with one of these kinds, so the kind set is
// closed: new failure modes map onto an existing kind or extend this list.
type Kind string

const (
	// KindAuth represents authentication or authorization failures.
	KindAuth Kind = "auth"
	// KindNotFound represents items the provider does not have.
	KindNotFound Kind = "not_found"
	// KindRateLimit represents provider-side throttling (HTTP 429).
	KindRateLimit Kind = "rate_limit"
	// KindTransient represents recoverable network or I/O failures.
	KindTransient Kind = "transient"
	// KindPostprocess represents conversion or tagging failures.
	KindPostprocess Kind = "postprocess"
	// KindFileSystem represents local file system failures.
	KindFileSystem Kind = "filesystem"
	// KindValidation represents invalid input or configuration.
	KindValidation Kind = "validation"
	// KindUnknown represents errors from outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// AppError carries the error kind and retry hint through the pipeline.
type AppError struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates an authentication error. Not retryable within a task;
// the caller must re-authenticate first.
func NewAuthError(message string, cause error) *AppError {
	return &AppError{Kind: KindAuth, Message: message, Retryable: false, Cause: cause}
}

// NewNotFoundError creates a terminal not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message, Retryable: false}
}

// NewRateLimitError creates a rate limit error. Retryable after backing off
// behind the provider gate.
func NewRateLimitError(message string) *AppError {
	return &AppError{Kind: KindRateLimit, Message: message, Retryable: true}
}

// NewTransientError creates a recoverable network/IO error.
func NewTransientError(message string, cause error) *AppError {
	return &AppError{Kind: KindTransient, Message: message, Retryable: true, Cause: cause}
}

// NewPostprocessError creates a terminal postprocessing error.
func NewPostprocessError(message string, cause error) *AppError {
	return &AppError{Kind: KindPostprocess, Message: message, Retryable: false, Cause: cause}
}

// NewFileSystemError creates a file system error.
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{Kind: KindFileSystem, Message: message, Retryable: true, Cause: cause}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Retryable: false}
}

// KindOf returns the kind of err, unwrapping as needed.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may be retried within the same task.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsRateLimit reports whether err is a rate limit error.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }
