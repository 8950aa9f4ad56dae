package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatExecution  ErrorCategory = "execution"  // Logic failure, terminal
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // API rate limited
	ErrCatState      ErrorCategory = "state"      // Coordination state conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNetwork    ErrorCategory = "network"    // Transport connectivity
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatCancelled  ErrorCategory = "cancelled"  // User-requested cancellation
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error. Never retryable.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error. Logic failures are terminal:
// retrying an empty edit or a red test run reproduces the same result.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a transport error.
func ErrNetwork(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a coordination state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrCancelled creates a cancellation error carrying who asked for it.
func ErrCancelled(cancelledBy string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      "TASK_CANCELLED",
		Message:   fmt.Sprintf("task cancelled by %s", cancelledBy),
		Retryable: false,
		Details: map[string]interface{}{
			"cancelled_by": cancelledBy,
		},
	}
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      "INTERNAL",
		Message:   message,
		Retryable: false,
	}
}

// Wrap annotates err with a category and code, preserving the cause chain.
func Wrap(err error, cat ErrorCategory, code, message string) *DomainError {
	retryable := cat == ErrCatNetwork || cat == ErrCatTimeout || cat == ErrCatRateLimit
	return &DomainError{
		Category:  cat,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     err,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsCancellation reports whether err represents a user cancellation.
func IsCancellation(err error) bool {
	return IsCategory(err, ErrCatCancelled)
}

// Predefined error codes
const (
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeBranchConflict    = "BRANCH_CONFLICT"
	CodeNoChanges         = "NO_CHANGES"
	CodeValidationUnfixed = "VALIDATION_UNFIXED"
	CodeTestsFailed       = "TESTS_FAILED"
	CodeAgentFailed       = "AGENT_FAILED"
	CodeParseFailed       = "PARSE_FAILED"

	// Validation error codes
	CodeEmptyDescription = "EMPTY_DESCRIPTION"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeNoDogs           = "NO_DOGS"

	// Dev-server failure codes
	CodeCompileError = "COMPILE_ERROR"
	CodeCompileHang  = "COMPILE_HANG"
	CodeRuntimeHang  = "RUNTIME_HANG"
	CodeSilentHang   = "SILENT_HANG"
	CodeServerExit   = "SERVER_EXIT"
	CodeNoFreePort   = "NO_FREE_PORT"
)

// MaxDescriptionLength is the maximum allowed task description length.
const MaxDescriptionLength = 50000
