package auth

import "fmt"

// Push channel close codes with application meaning.
const (
	CloseNormal         = 1000
	CloseSessionExpired = 4001
	CloseAccessDenied   = 4002
	CloseForbidden      = 4003
	CloseRateLimited    = 4029

	appCodeMin = 4000
	appCodeMax = 4999
)

// OutcomeKind classifies why the push channel closed.
type OutcomeKind string

const (
	// OutcomeTransport is a close with no authentication meaning.
	OutcomeTransport OutcomeKind = "transport"
	// OutcomeNormal is a normal (1000) close.
	OutcomeNormal OutcomeKind = "normal"
	// OutcomeRateLimited asks the client to back off; it is transient.
	OutcomeRateLimited OutcomeKind = "rate_limited"
	// OutcomeSessionExpired is terminal: credentials are cleared and the
	// user must log in again.
	OutcomeSessionExpired OutcomeKind = "session_expired"
	// OutcomeAccessDenied scopes the failure to one resource.
	OutcomeAccessDenied OutcomeKind = "access_denied"
	// OutcomeForbidden means the resource was deleted or restricted.
	OutcomeForbidden OutcomeKind = "forbidden"
	// OutcomeAuthError is an unrecognized application close code.
	OutcomeAuthError OutcomeKind = "auth_error"
)

// Outcome is the semantic interpretation of a close code.
type Outcome struct {
	Kind   OutcomeKind
	Code   int
	Reason string
}

// IsAuth reports whether the outcome is an authentication failure.
func (o Outcome) IsAuth() bool {
	switch o.Kind {
	case OutcomeSessionExpired, OutcomeAccessDenied, OutcomeForbidden, OutcomeAuthError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the whole session is over.
func (o Outcome) Terminal() bool { return o.Kind == OutcomeSessionExpired }

// Redirect reports whether the user should be sent to log in.
func (o Outcome) Redirect() bool { return o.Kind == OutcomeSessionExpired }

// Retryable reports whether automatic reconnection should continue.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeTransport || o.Kind == OutcomeRateLimited
}

// Message returns a human-readable description.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeSessionExpired:
		return "session expired, please log in again"
	case OutcomeAccessDenied:
		return "access to this conversation was denied"
	case OutcomeForbidden:
		return "this conversation was deleted or is restricted"
	case OutcomeRateLimited:
		return "rate limited by server"
	case OutcomeAuthError:
		if o.Reason != "" {
			return fmt.Sprintf("authentication error: %s", o.Reason)
		}
		return fmt.Sprintf("authentication error (code %d)", o.Code)
	case OutcomeNormal:
		return "connection closed"
	default:
		return fmt.Sprintf("connection lost (code %d)", o.Code)
	}
}

// SessionExpired is the outcome used when a credential is rejected outside
// the push channel, for example a 401 from the REST API.
func SessionExpired(reason string) Outcome {
	return Outcome{Kind: OutcomeSessionExpired, Code: CloseSessionExpired, Reason: reason}
}

// InterpretClose maps a close code to its semantic outcome.
func InterpretClose(code int, reason string) Outcome {
	o := Outcome{Code: code, Reason: reason}
	switch {
	case code == CloseNormal:
		o.Kind = OutcomeNormal
	case code == CloseSessionExpired:
		o.Kind = OutcomeSessionExpired
	case code == CloseAccessDenied:
		o.Kind = OutcomeAccessDenied
	case code == CloseForbidden:
		o.Kind = OutcomeForbidden
	case code == CloseRateLimited:
		o.Kind = OutcomeRateLimited
	case code >= appCodeMin && code <= appCodeMax:
		o.Kind = OutcomeAuthError
	default:
		o.Kind = OutcomeTransport
	}
	return o
}
