package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Transport
	ErrCodeNotConnected      ErrorCode = "NOT_CONNECTED"
	ErrCodeHandshakeRejected ErrorCode = "HANDSHAKE_REJECTED"
	ErrCodeTransportClosed   ErrorCode = "TRANSPORT_CLOSED"
	ErrCodeNoAccessToken     ErrorCode = "NO_ACCESS_TOKEN"

	// Protocol
	ErrCodeMalformedFrame   ErrorCode = "MALFORMED_FRAME"
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// Preconditions
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeEmptyInviteCode ErrorCode = "EMPTY_INVITE_CODE"
	ErrCodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"

	// Local invite lifecycle
	ErrCodeInviteExpired ErrorCode = "INVITE_EXPIRED"

	// Server-reported
	ErrCodeServer ErrorCode = "SERVER_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error surfaced to the presentation layer
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Not connected to the chat service")
}

func HandshakeRejected(cause error) *AppError {
	return Wrap(ErrCodeHandshakeRejected, "Connection handshake rejected", cause)
}

func NoAccessToken() *AppError {
	return New(ErrCodeNoAccessToken, "No access token available")
}

func InvalidState(action, state string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("Cannot %s while %s", action, state))
}

func EmptyInviteCode() *AppError {
	return New(ErrCodeEmptyInviteCode, "Invite code must not be empty")
}

func InviteExpired() *AppError {
	return New(ErrCodeInviteExpired, "Invite code expired")
}

func MalformedPayload(channel string, cause error) *AppError {
	return Wrap(ErrCodeMalformedPayload, fmt.Sprintf("Malformed payload on %s", channel), cause)
}

func Server(code, message string) *AppError {
	if message == "" {
		message = code
	}
	return New(ErrCodeServer, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Surface returns the human-readable message for display in the client
// snapshot's error field.
func Surface(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
