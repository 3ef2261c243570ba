// Package errors provides the typed error taxonomy of the caching subsystem.
//
// Only validation errors (malformed cursors, cache keys or batch keys) are ever
// returned to callers. Connectivity and serialization failures are built with
// the same type so they can be logged and counted consistently, but cache
// operations swallow them and degrade to a miss.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines the category of error for proper handling.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeConnection    ErrorType = "CONNECTION"
	ErrorTypeSerialization ErrorType = "SERIALIZATION"
	ErrorTypeCapacity      ErrorType = "CAPACITY"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

// CacheError is the single error type used across the cache, loader and
// pagination packages.
type CacheError struct {
	Type      ErrorType `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Key       string    `json:"key,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches another CacheError by code, so sentinel comparisons work:
//
//	errors.Is(err, errors.ErrInvalidCursor)
func (e *CacheError) Is(target error) bool {
	var t *CacheError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ============================================================================
// ERROR BUILDER FOR FLUENT CONSTRUCTION
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing CacheError instances.
type ErrorBuilder struct {
	err *CacheError
}

// NewError creates a new error builder with the specified type and message.
func NewError(errType ErrorType, code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{err: &CacheError{Type: errType, Code: code, Message: message}}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.err.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithKey records the cache key involved.
func (b *ErrorBuilder) WithKey(key string) *ErrorBuilder {
	b.err.Key = key
	return b
}

// WithCause adds the underlying cause error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed CacheError.
func (b *ErrorBuilder) Build() *CacheError {
	return b.err
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// Validation creates a validation error.
func Validation(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message)
}

// Connection creates a connectivity error.
func Connection(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeConnection, code, message)
}

// Serialization creates a payload encode/decode error.
func Serialization(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeSerialization, code, message)
}

// Capacity creates a capacity error.
func Capacity(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeCapacity, code, message)
}

// NewInvalidCursor reports a page cursor that could not be decoded.
func NewInvalidCursor(cursor string, cause error) *CacheError {
	return Validation(CodeInvalidCursor, "invalid pagination cursor").
		WithDetails(truncate(cursor, 64)).
		WithCause(cause).
		Build()
}

// NewInvalidCacheKey reports an explicit cache key that cannot be used.
func NewInvalidCacheKey(key, reason string) *CacheError {
	return Validation(CodeInvalidCacheKey, "invalid cache key").
		WithDetails(reason).
		WithKey(truncate(key, 64)).
		Build()
}

// NewInvalidBatchKey reports a batch id that cannot be composed into a batch key.
func NewInvalidBatchKey(id, reason string) *CacheError {
	return Validation(CodeInvalidBatchKey, "invalid batch key").
		WithDetails(reason).
		WithKey(truncate(id, 64)).
		Build()
}

// NewUnknownDataType reports a data-type tag nothing is registered for.
func NewUnknownDataType(dataType string) *CacheError {
	return Validation(CodeUnknownDataType, "unknown data type").
		WithDetails(truncate(dataType, 64)).
		Build()
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCursor   = &CacheError{Type: ErrorTypeValidation, Code: CodeInvalidCursor}
	ErrInvalidCacheKey = &CacheError{Type: ErrorTypeValidation, Code: CodeInvalidCacheKey}
	ErrInvalidBatchKey = &CacheError{Type: ErrorTypeValidation, Code: CodeInvalidBatchKey}
	ErrUnknownDataType = &CacheError{Type: ErrorTypeValidation, Code: CodeUnknownDataType}
)

// ============================================================================
// ERROR CLASSIFICATION
// ============================================================================

// TypeOf returns the ErrorType of err, or "" when err is not a CacheError.
func TypeOf(err error) ErrorType {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsConnection checks if an error is a connectivity error.
func IsConnection(err error) bool {
	return TypeOf(err) == ErrorTypeConnection
}

// IsSerialization checks if an error is a serialization error.
func IsSerialization(err error) bool {
	return TypeOf(err) == ErrorTypeSerialization
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
