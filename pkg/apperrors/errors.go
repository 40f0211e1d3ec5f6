// Package apperrors provides typed errors so callers can decide whether a
// failure is absorbed (rate limit, transient, conflict) or ends a run.
//
//	err := apperrors.Wrap(err, apperrors.ErrorTypeTransient, "fetch page").
//		WithDetail("page", 12)
//	if apperrors.IsRetryable(err) { ... }
package apperrors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes an error for handling decisions.
type ErrorType string

const (
	// ErrorTypeRateLimit means the remote asked us to slow down.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTransient covers timeouts, refused connections and gateway errors.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeConflict is a per-record uniqueness violation.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeFatal aborts the current pipeline stage.
	ErrorTypeFatal ErrorType = "fatal"
	// ErrorTypeConnection is a store connectivity failure.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig is an invalid or unreadable configuration.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData is a malformed payload or record.
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery is a failed statement that is not a conflict.
	ErrorTypeQuery ErrorType = "query"
)

// Error is a categorized error with optional key/value context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches context and returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type.
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates an error of the given type with a formatted message.
func Newf(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap categorizes cause. A nil cause yields nil.
func Wrap(cause error, t ErrorType, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Type: t, Message: message, Cause: cause}
}

// TypeOf returns the type of the outermost *Error in the chain, or "".
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsType reports whether any *Error in the chain has type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable reports whether the error is worth retrying after a delay.
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeRateLimit) || IsType(err, ErrorTypeTransient)
}

// IsFatal reports whether the error must end the current stage.
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeFatal) || IsType(err, ErrorTypeConnection)
}
