// Package errors provides the structured error types used across rategate.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	// ErrTypeConfig represents configuration errors: malformed limit
	// expressions, unknown period units, invalid cost values
	ErrTypeConfig ErrorType = "config"
	// ErrTypeBackend represents counting-backend failures
	ErrTypeBackend ErrorType = "backend_unavailable"
	// ErrTypeValidation represents input validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a structured application error carrying a type, an optional
// cause, and free-form context values.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds a context value to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ConfigError creates a configuration error. Configuration errors are fatal
// for the evaluation that produced them; they must never degrade into an
// allow or deny decision.
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ConfigErrorf creates a configuration error with a formatted message
func ConfigErrorf(format string, args ...interface{}) *AppError {
	return ConfigError(fmt.Sprintf(format, args...))
}

// BackendError creates a counting-backend failure error
func BackendError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeBackend,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// InternalError creates an internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is an AppError of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	return IsType(err, ErrTypeConfig)
}

// IsBackend reports whether err is a backend-unavailable error
func IsBackend(err error) bool {
	return IsType(err, ErrTypeBackend)
}
