package transport

import "github.com/google/uuid"

// Frame is one inbound push-channel frame. Data holds the raw JSON document.
type Frame struct {
	Type    string
	Channel string
	Data    []byte
}

// FrameHandler receives frames routed to a subscription.
type FrameHandler func(Frame)

// Subscription binds a channel to a handler. The pointer is a stable handle;
// the id is regenerated each time the subscription is re-established.
type Subscription struct {
	id      string
	channel string
	handler FrameHandler
	// live is set once a subscribe frame went out on the current socket.
	live bool
}

func newSubscription(channel string, handler FrameHandler) *Subscription {
	return &Subscription{id: uuid.NewString(), channel: channel, handler: handler}
}

// ID returns the current subscription id.
func (s *Subscription) ID() string { return s.id }

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) renew() {
	s.id = uuid.NewString()
	s.live = false
}

type controlFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id,omitempty"`
}

type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}
