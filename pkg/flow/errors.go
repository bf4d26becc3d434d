package flow

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
)

// Error is the structured error type for all lazerflow operations.
type Error struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Step       string         `json:"step,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
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

// WithWorkflow attaches the owning workflow instance id.
func (e *Error) WithWorkflow(id string) *Error {
	e.WorkflowID = id
	return e
}

// WithStep attaches the step name the error originated from.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
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

// CodeOf returns the structured code of err, or ErrCodeExecution for plain errors.
func CodeOf(err error) string {
	if fe, ok := err.(*Error); ok {
		return fe.Code
	}
	return ErrCodeExecution
}
