package runtimeerr

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuntimeError is the canonical error type for the runtime. All errors
// thrown in core paths should be a *RuntimeError.
type RuntimeError struct {
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Cause      error             `json:"-"`
	Context    map[string]string `json:"context,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the cause for error chain inspection.
func (e *RuntimeError) Unwrap() error { return e.Cause }

// WithCause attaches an underlying cause.
func (e *RuntimeError) WithCause(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// WithContext adds a redacted context field.
func (e *RuntimeError) WithContext(key, value string) *RuntimeError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = Redact(value)
	return e
}

// SetRetryable overrides the default retryability of the code.
func (e *RuntimeError) SetRetryable(retryable bool) *RuntimeError {
	e.Retryable = retryable
	return e
}

// SafeError returns a string safe for logs (no cause, no raw context).
func (e *RuntimeError) SafeError() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// MarshalJSON renders a safe, stable representation.
func (e *RuntimeError) MarshalJSON() ([]byte, error) {
	type safe struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Retryable bool              `json:"retryable"`
		Context   map[string]string `json:"context,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
	}
	return json.Marshal(safe{
		Code:      string(e.Code),
		Message:   e.Message,
		Retryable: e.Retryable,
		Context:   e.Context,
		Timestamp: e.Timestamp,
	})
}

// New creates a RuntimeError with the given code and message.
func New(code Code, message string) *RuntimeError {
	return &RuntimeError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Retryable: code.IsRetryable(),
	}
}

// Newf creates a RuntimeError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *RuntimeError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err as a RuntimeError, passing through an existing one unchanged.
func Wrap(err error, code Code, message string) *RuntimeError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RuntimeError); ok {
		return re
	}
	return New(code, message).WithCause(err)
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *RuntimeError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// IsRuntimeError reports whether err is a *RuntimeError.
func IsRuntimeError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*RuntimeError)
	return ok
}

// CodeOf extracts the code from err, or CodeUnknown if err isn't a RuntimeError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if re, ok := err.(*RuntimeError); ok {
		return re.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RuntimeError); ok {
		return re.Retryable
	}
	return false
}
