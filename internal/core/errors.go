package core

import (
	"errors"
	"fmt"
)

// ErrorCategory groups errors by how callers should react to them.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or stored data
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Generation backend rate limited
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// retryableByDefault lists the categories whose errors a caller may retry
// without changing the request.
var retryableByDefault = map[ErrorCategory]bool{
	ErrCatExecution: true,
	ErrCatTimeout:   true,
	ErrCatRateLimit: true,
	ErrCatNetwork:   true,
}

// DomainError is the structured error shared by every layer. Runners map
// it to a task's error stage; the HTTP layer maps it to a status code.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]any
}

func newError(cat ErrorCategory, code, message string) *DomainError {
	return &DomainError{
		Category:  cat,
		Code:      code,
		Message:   message,
		Retryable: retryableByDefault[cat],
	}
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches another DomainError with the same category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Category == t.Category && e.Code == t.Code
}

// WithCause records the underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches a key/value for logs and API responses.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrValidation reports bad input or malformed stored data.
func ErrValidation(code, message string) *DomainError {
	return newError(ErrCatValidation, code, message)
}

// ErrExecution reports a failed generation or I/O step.
func ErrExecution(code, message string) *DomainError {
	return newError(ErrCatExecution, code, message)
}

func ErrTimeout(message string) *DomainError {
	return newError(ErrCatTimeout, "TIMEOUT", message)
}

func ErrRateLimit(message string) *DomainError {
	return newError(ErrCatRateLimit, "RATE_LIMITED", message)
}

// ErrState reports a conflict with the task's current stage or the lock.
func ErrState(code, message string) *DomainError {
	return newError(ErrCatState, code, message)
}

func ErrAuth(message string) *DomainError {
	return newError(ErrCatAuth, "AUTH_FAILED", message)
}

func ErrNetwork(message string) *DomainError {
	return newError(ErrCatNetwork, "NETWORK_ERROR", message)
}

// ErrNotFound reports a missing task, phase or document.
func ErrNotFound(resource, id string) *DomainError {
	return newError(ErrCatNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id))
}

func ErrInternal(code, message string) *DomainError {
	return newError(ErrCatInternal, code, message)
}

func asDomain(err error) (*DomainError, bool) {
	var de *DomainError
	ok := errors.As(err, &de)
	return de, ok
}

// IsRetryable reports whether err, or a DomainError it wraps, is retryable.
func IsRetryable(err error) bool {
	de, ok := asDomain(err)
	return ok && de.Retryable
}

// GetCategory returns the category of err; plain errors are internal.
func GetCategory(err error) ErrorCategory {
	if de, ok := asDomain(err); ok {
		return de.Category
	}
	return ErrCatInternal
}

// IsCategory reports whether err belongs to cat.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// HasCode reports whether err, or a DomainError it wraps, carries code.
func HasCode(err error, code string) bool {
	de, ok := asDomain(err)
	return ok && de.Code == code
}

// Predefined error codes
const (
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeInvalidStage      = "INVALID_STAGE"
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeCheckpointShape   = "CHECKPOINT_SHAPE_MISMATCH"

	// Validation error codes
	CodeEmptyPrompt      = "EMPTY_PROMPT"
	CodePromptTooLong    = "PROMPT_TOO_LONG"
	CodeInvalidMode      = "INVALID_MODE"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeMalformedJSON    = "MALFORMED_JSON"
	CodeInvalidSubtopics = "INVALID_SUBTOPICS"

	// Execution error codes
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeEmptyOutput      = "EMPTY_OUTPUT"
	CodeParseFailed      = "PARSE_FAILED"
	CodeDocumentCreate   = "DOCUMENT_CREATE_FAILED"
	CodeIngestionFailed  = "INGESTION_FAILED"
	CodePanic            = "PANIC"
)

// MaxPromptLength is the maximum allowed prompt length.
const MaxPromptLength = 100000
