package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType classifies a failure.
type ErrorType string

const (
	// ErrorTypeValidation marks a rejected argument, such as a non power of
	// two alignment or an inconsistent chunk growth policy.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration marks an invalid environment or config file.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeResource marks a failure to obtain memory from the system.
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeExhausted marks a pool that could not satisfy a request.
	ErrorTypeExhausted ErrorType = "exhausted"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsType reports whether any error in err's chain is a StructuredError of
// the given type.
func IsType(err error, errType ErrorType) bool {
	var se *StructuredError
	for err != nil {
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errType {
			return true
		}
		err = se.Cause
	}
	return false
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewResourceError creates a resource error
func NewResourceError(operation, message string) *StructuredError {
	return New(ErrorTypeResource, operation, message)
}

// NewExhaustedError creates an exhaustion error
func NewExhaustedError(operation, message string) *StructuredError {
	return New(ErrorTypeExhausted, operation, message)
}

// WrapValidationError wraps an error as a validation error
func WrapValidationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeValidation, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// WrapResourceError wraps an error as a resource error
func WrapResourceError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeResource, operation, message)
}

// WrapExhaustedError wraps an error as an exhaustion error
func WrapExhaustedError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeExhausted, operation, message)
}
