package core

import (
	"errors"
	"fmt"
)

// Error represents a typed error shared by the SDK and the gateway.
// Message carries diagnostic detail intended for logs; UserMessage
// returns the human-readable text shown to end users.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrCredential     ErrorType = "credential_error"
	ErrTransport      ErrorType = "transport_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrTool           ErrorType = "tool_error"
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrInternal       ErrorType = "internal_error"
)

// NewCredentialError creates a credential error. Credential failures are
// fatal for the connect attempt that raised them and are never retried.
func NewCredentialError(message string) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: message,
	}
}

// NewTransportError creates a transport error wrapping its cause.
func NewTransportError(message string, cause error) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
		cause:   cause,
	}
}

// NewProtocolError creates a protocol parse error wrapping its cause.
func NewProtocolError(message string, cause error) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
		cause:   cause,
	}
}

// NewToolError creates a tool resolution error. Param records the tool name.
func NewToolError(toolName, message string) *Error {
	return &Error{
		Type:    ErrTool,
		Message: message,
		Param:   toolName,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewUpstreamError creates an error for a failed upstream call. Code records
// the upstream HTTP status.
func NewUpstreamError(message string, status int) *Error {
	return &Error{
		Type:    ErrUpstream,
		Message: message,
		Code:    fmt.Sprintf("http_%d", status),
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *Error {
	return &Error{
		Type:    ErrInternal,
		Message: message,
	}
}

// UserMessage returns human-readable text suitable for end users,
// without the diagnostic detail carried in Message.
func (e *Error) UserMessage() string {
	switch e.Type {
	case ErrCredential:
		return "Could not start the session: no valid credential was issued."
	case ErrTransport:
		return "The connection was lost."
	case ErrProtocol:
		return "Received an unreadable message from the service."
	case ErrTool:
		return "Something went wrong while looking that up."
	case ErrAuthentication:
		return "Authentication failed."
	case ErrRateLimit:
		return "Too many requests. Please slow down."
	case ErrUpstream:
		return "The upstream service returned an error."
	case ErrInvalidRequest:
		return "The request was rejected."
	default:
		return "An internal error occurred."
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrUpstream:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
