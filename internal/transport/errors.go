package transport

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/chatlink/internal/auth"
)

// ErrorCode classifies a transport-level failure.
type ErrorCode string

const (
	// ErrCodeConnection indicates network or socket failures.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeSessionExpired indicates the credential was rejected; terminal.
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"

	// ErrCodeAccessDenied indicates access to one resource was refused.
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED"

	// ErrCodeForbidden indicates the resource was deleted or restricted.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// ErrCodeAuthentication indicates any other application auth failure.
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodeRateLimit indicates the server asked the client to back off.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// ErrCodeValidation indicates a malformed or unrecognized frame.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeServer indicates an error frame sent by the server.
	ErrCodeServer ErrorCode = "SERVER_ERROR"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeUnavailable indicates the service is temporarily unavailable.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is the single structured value through which transport, session and
// fallback failures are surfaced.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithContext adds a key/value pair for debugging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeConnection, ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// IsAuth reports whether the failure is an authentication failure.
func (e *Error) IsAuth() bool {
	switch e.Code {
	case ErrCodeSessionExpired, ErrCodeAccessDenied, ErrCodeForbidden, ErrCodeAuthentication:
		return true
	default:
		return false
	}
}

// ErrConnection creates a connection error.
func ErrConnection(message string, err error) *Error {
	return NewError(ErrCodeConnection, message, err)
}

// ErrValidation creates a frame validation error.
func ErrValidation(message string, err error) *Error {
	return NewError(ErrCodeValidation, message, err)
}

// ErrServer creates an error reported by the server.
func ErrServer(message string) *Error {
	return NewError(ErrCodeServer, message, nil)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string, err error) *Error {
	return NewError(ErrCodeTimeout, message, err)
}

// ErrInternal creates an internal error.
func ErrInternal(message string, err error) *Error {
	return NewError(ErrCodeInternal, message, err)
}

// FromOutcome converts a close-code outcome into a structured error.
func FromOutcome(o auth.Outcome) *Error {
	var code ErrorCode
	switch o.Kind {
	case auth.OutcomeSessionExpired:
		code = ErrCodeSessionExpired
	case auth.OutcomeAccessDenied:
		code = ErrCodeAccessDenied
	case auth.OutcomeForbidden:
		code = ErrCodeForbidden
	case auth.OutcomeAuthError:
		code = ErrCodeAuthentication
	case auth.OutcomeRateLimited:
		code = ErrCodeRateLimit
	default:
		code = ErrCodeConnection
	}
	e := NewError(code, o.Message(), nil).WithContext("close_code", o.Code)
	if o.Reason != "" {
		e.WithContext("reason", o.Reason)
	}
	return e
}

// GetErrorCode extracts the ErrorCode from err, or ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code
	}
	return ErrCodeInternal
}
