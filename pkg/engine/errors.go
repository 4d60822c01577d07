package engine

import (
	"errors"
	"fmt"

	"github.com/pcesched/pcesched/pkg/pce"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on a
	// later pass. Examples: PCE unreachable, request timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates the PCE refused a write, typically because
	// of concurrent draft changes or a provision conflict.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: store failure, object deleted on the PCE.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Href is the PCE object the error relates to, if any.
	Href string `json:"href,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Href != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (href=%s, operation=%s): %s",
			e.Class, e.Message, e.Href, e.Operation, e.unwrapMessage())
	}
	if e.Href != "" {
		return fmt.Sprintf("[%s] %s (href=%s): %s",
			e.Class, e.Message, e.Href, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithHref adds the PCE object to an error.
func (e *EngineError) WithHref(href string) *EngineError {
	e.Href = href
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// classifyRemote wraps a PCE client error in an EngineError of the matching class.
func classifyRemote(op, href string, err error) *EngineError {
	var e *EngineError
	switch {
	case pce.IsNotFound(err):
		e = NewPermanentError("object not found on the PCE", err).WithCode(ErrCodeNotFound)
	case pce.IsRejected(err):
		e = NewConflictError("PCE rejected the request", err).WithCode(ErrCodeRejected)
	default:
		e = NewTransientError("PCE unreachable", err).WithCode(ErrCodeUnreachable)
	}
	return e.WithHref(href).WithOperation(op)
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return hasClass(err, ErrorClassTransient)
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return hasClass(err, ErrorClassConflict)
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return hasClass(err, ErrorClassPermanent)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeStoreLoad   = "STORE_LOAD_FAILED"
	ErrCodeStoreDelete = "STORE_DELETE_FAILED"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeUnreachable = "UNREACHABLE"
	ErrCodeRejected    = "REJECTED"
)
