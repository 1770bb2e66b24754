package transport

import "time"

// State is the push-channel connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateAuthError    State = "auth_error"
	StateError        State = "error"
)

var allStates = []State{StateDisconnected, StateConnecting, StateConnected, StateAuthError, StateError}

// StateChange describes one connectivity transition.
type StateChange struct {
	From State
	To   State
	URL  string

	// Attempt is the number of consecutive failed attempts so far.
	Attempt int
	// NextDelay is the scheduled wait before the next attempt, if any.
	NextDelay time.Duration

	// Reconnecting is set on a connecting transition started by the retry
	// machinery rather than by Connect.
	Reconnecting bool
	// WillRetry is set on a disconnected transition when a retry is armed.
	WillRetry bool
	// Exhausted is set on the error transition after MaxAttempts failures.
	Exhausted bool
	// Intentional is set when the caller asked to disconnect.
	Intentional bool

	// DisconnectedAt is when the current offline episode began; zero while
	// connected or after an intentional disconnect.
	DisconnectedAt time.Time
	At             time.Time
	Err            *Error
}

// Snapshot is a point-in-time view of the connection for health display.
type Snapshot struct {
	State          State         `json:"state"`
	URL            string        `json:"url,omitempty"`
	Attempt        int           `json:"attempt"`
	NextDelay      time.Duration `json:"next_delay"`
	LastConnected  time.Time     `json:"last_connected,omitempty"`
	DisconnectedAt time.Time     `json:"disconnected_at,omitempty"`
	Exhausted      bool          `json:"exhausted"`
	QueueDepth     int           `json:"queue_depth"`
	Subscriptions  int           `json:"subscriptions"`
}
