package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNoSession    = "NO_SESSION"
	ErrCodeTaskNotFound = "TASK_NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStore        = "STORE_ERROR"
	ErrCodeCredentials  = "CREDENTIALS_ERROR"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeScheduling   = "SCHEDULING_ERROR"
	ErrCodeRuntime      = "RUNTIME_ERROR"
	ErrCodeTimeout      = "TIMEOUT_ERROR"
)

// Error is the structured error type for all journaling and pipeline
// operations. Code is stable and consumed by log/alert tooling; Details
// carry diagnostic attributes such as the offending status or phase name.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Phase   string         `json:"phase_name,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("[%s] phase %s: %s", e.Code, e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPhase attaches a phase name to the error.
func (e *Error) WithPhase(phase string) *Error {
	e.Phase = phase
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsRetryable reports whether the caller may retry the failed operation
// without changing it. Throttling and transient store errors qualify;
// validation, credentials and permission failures never do.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeThrottled, ErrCodeStore, ErrCodeTimeout:
		return true
	}
	return false
}
