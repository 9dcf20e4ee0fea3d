// Package errors defines the structured error codes returned by the chat
// service.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for chat operations.
type ErrorCode string

const (
	// ErrCodeSessionNotFound indicates no live session exists for the user.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeUnknownMessageType indicates no handler is registered for the message type.
	ErrCodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	// ErrCodeGenerationFailed indicates the backend failed to produce a reply.
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	// ErrCodeModelSwitchFailed indicates the requested model is not served.
	ErrCodeModelSwitchFailed ErrorCode = "MODEL_SWITCH_FAILED"
	// ErrCodeValidationFailed indicates invalid input.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimitExceeded indicates the user sent too many messages.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeInternal indicates an unexpected failure such as a recovered panic.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// AIError represents a structured error for chat operations.
type AIError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AIError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AIError) WithContext(key string, value any) *AIError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Convenience constructors for common error types.

// SessionNotFound creates a session not found error.
func SessionNotFound(userID string) *AIError {
	return &AIError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("session not found: %s", userID),
	}
}

// UnknownMessageType creates an unknown message type error.
func UnknownMessageType(messageType string) *AIError {
	return &AIError{
		Code:    ErrCodeUnknownMessageType,
		Message: fmt.Sprintf("unknown message type: %s", messageType),
	}
}

// GenerationFailed creates a generation failed error.
func GenerationFailed(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodeGenerationFailed, Message: msg, Cause: cause}
}

// ModelSwitchFailed creates a model switch failed error.
func ModelSwitchFailed(model string, cause error) *AIError {
	return &AIError{
		Code:    ErrCodeModelSwitchFailed,
		Message: fmt.Sprintf("cannot switch to model %q", model),
		Cause:   cause,
	}
}

// ValidationFailed creates a validation error.
func ValidationFailed(msg string) *AIError {
	return &AIError{Code: ErrCodeValidationFailed, Message: msg}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *AIError {
	return &AIError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *AIError {
	return &AIError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with a code.
func Wrap(cause error, code ErrorCode, msg string) *AIError {
	return &AIError{Code: code, Message: msg, Cause: cause}
}

// IsCode reports whether any error in err's chain is an AIError with code.
func IsCode(err error, code ErrorCode) bool {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the chain holds no AIError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code
	}
	return defaultCode
}
