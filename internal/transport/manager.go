// Package transport maintains the persistent push channel: connection
// lifecycle, reconnection with backoff, heartbeats, the outbound queue and
// channel subscriptions. All Manager methods must run on the loop.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/backoff"
	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/internal/observer"
)

const (
	DefaultMaxAttempts       = 10
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

// Config tunes the connection manager.
type Config struct {
	Backoff           backoff.Policy
	MaxAttempts       int
	HeartbeatInterval time.Duration
	QueueSize         int
	DialTimeout       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:           backoff.DefaultPolicy(),
		MaxAttempts:       DefaultMaxAttempts,
		HeartbeatInterval: DefaultHeartbeatInterval,
		QueueSize:         DefaultQueueSize,
		DialTimeout:       DefaultDialTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}

// Credentials supplies the dial credential and interprets close codes.
type Credentials interface {
	Token() string
	InterpretClose(code int, reason string) auth.Outcome
	Apply(o auth.Outcome) error
}

// Deps are the manager's collaborators.
type Deps struct {
	Scheduler   loop.Scheduler
	Dialer      Dialer
	Credentials Credentials
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Manager owns one push-channel connection.
type Manager struct {
	cfg     Config
	sched   loop.Scheduler
	dialer  Dialer
	creds   Credentials
	logger  *slog.Logger
	metrics *Metrics

	state          State
	url            string
	gen            uint64
	sock           Socket
	cancelDial     context.CancelFunc
	attempt        int
	nextDelay      time.Duration
	exhausted      bool
	lastConnected  time.Time
	disconnectedAt time.Time

	reconnectTimer loop.Timer
	heartbeatTimer loop.Timer

	queue *ring
	subs  []*Subscription

	stateListeners observer.List[StateChange]
	errorListeners observer.List[*Error]
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		sched:   deps.Scheduler,
		dialer:  deps.Dialer,
		creds:   deps.Credentials,
		logger:  logger.With("component", "transport"),
		metrics: deps.Metrics,
		state:   StateDisconnected,
		queue:   newRing(cfg.QueueSize),
	}
	m.metrics.setState(m.state)
	return m
}

// OnStateChange registers a connectivity listener. Listeners run
// synchronously in registration order, once per transition.
func (m *Manager) OnStateChange(fn func(StateChange)) func() {
	return m.stateListeners.Add(fn)
}

// OnError registers a listener for reported errors.
func (m *Manager) OnError(fn func(*Error)) func() {
	return m.errorListeners.Add(fn)
}

// State returns the current connection state.
func (m *Manager) State() State { return m.state }

// URL returns the target url without credentials.
func (m *Manager) URL() string { return m.url }

// Snapshot returns the current connection status.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		State:          m.state,
		URL:            m.url,
		Attempt:        m.attempt,
		NextDelay:      m.nextDelay,
		LastConnected:  m.lastConnected,
		DisconnectedAt: m.disconnectedAt,
		Exhausted:      m.exhausted,
		QueueDepth:     m.queue.len(),
		Subscriptions:  len(m.subs),
	}
}

// Connect opens the channel to target, migrating away from any other url.
// It is a no-op while connected or connecting to the same url.
func (m *Manager) Connect(target string) {
	if target == m.url && (m.state == StateConnected || m.state == StateConnecting) {
		return
	}
	if m.url != "" && target != m.url {
		m.logger.Info("migrating push channel", "from", m.url, "to", target)
	}
	m.stopTimers()
	m.dropSocket(auth.CloseNormal, "migrating")
	m.url = target
	m.attempt = 0
	m.nextDelay = 0
	m.exhausted = false
	m.dial(false)
}

// Retry restarts connection attempts after exhaustion or a normal close.
// It does nothing while connected, connecting or in auth_error.
func (m *Manager) Retry() {
	if m.url == "" {
		return
	}
	switch m.state {
	case StateError, StateDisconnected:
	default:
		return
	}
	m.logger.Info("manual reconnect requested", "url", m.url)
	m.stopTimers()
	m.attempt = 0
	m.exhausted = false
	m.dial(true)
}

// Disconnect tears down the channel, timers, queue and subscriptions.
func (m *Manager) Disconnect() {
	if m.url == "" && m.sock == nil && m.state == StateDisconnected && len(m.subs) == 0 {
		return
	}
	m.stopTimers()
	m.dropSocket(auth.CloseNormal, "client disconnect")
	m.queue.reset()
	m.metrics.queue(0, false)
	m.subs = nil
	prev := m.url
	m.url = ""
	m.attempt = 0
	m.nextDelay = 0
	m.exhausted = false
	m.disconnectedAt = time.Time{}
	m.transition(StateDisconnected, StateChange{URL: prev, Intentional: true})
}

// FailAuth enters auth_error for an authentication outcome observed outside
// the socket, such as a 401 from the REST API. No retry is scheduled.
func (m *Manager) FailAuth(o auth.Outcome) {
	m.stopTimers()
	m.dropSocket(auth.CloseNormal, "authentication failed")
	m.authFailed(o)
}

// Send transmits v when connected, otherwise buffers it.
func (m *Manager) Send(v any) error {
	data, frameType, err := encode(v)
	if err != nil {
		e := ErrValidation("failed to encode frame", err)
		m.metrics.recordError(e.Code)
		return e
	}
	if m.state == StateConnected && m.sock != nil {
		err := m.sock.Send(data)
		if err == nil {
			m.metrics.frame("outbound", frameType)
			m.logger.Debug("frame sent", "type", frameType)
			return nil
		}
		m.logger.Warn("send failed, buffering frame", "type", frameType, "error", err)
	}
	m.enqueue(data)
	return nil
}

// Subscribe registers handler for frames on channel. Subscribing to a
// channel that already has a subscription replaces its handler.
func (m *Manager) Subscribe(channel string, handler FrameHandler) *Subscription {
	for _, sub := range m.subs {
		if sub.channel == channel {
			sub.handler = handler
			m.Resubscribe(sub)
			return sub
		}
	}
	sub := newSubscription(channel, handler)
	m.subs = append(m.subs, sub)
	if m.state == StateConnected {
		m.sendSubscribe(sub)
	}
	return sub
}

// Resubscribe re-establishes sub under a fresh id with the same handler.
func (m *Manager) Resubscribe(sub *Subscription) {
	if !m.owns(sub) {
		return
	}
	sub.renew()
	if m.state == StateConnected {
		m.sendSubscribe(sub)
	}
}

// Unsubscribe removes the subscription with id.
func (m *Manager) Unsubscribe(id string) bool {
	for i, sub := range m.subs {
		if sub.id != id {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		if sub.live && m.state == StateConnected {
			m.write(controlFrame{Type: "unsubscribe", Channel: sub.channel, ID: sub.id})
		}
		return true
	}
	return false
}

// Subscriptions returns the active subscriptions in registration order.
func (m *Manager) Subscriptions() []*Subscription {
	out := make([]*Subscription, len(m.subs))
	copy(out, m.subs)
	return out
}

func (m *Manager) owns(sub *Subscription) bool {
	for _, s := range m.subs {
		if s == sub {
			return true
		}
	}
	return false
}

func (m *Manager) sendSubscribe(sub *Subscription) {
	m.write(controlFrame{Type: "subscribe", Channel: sub.channel, ID: sub.id})
	sub.live = true
}

// write sends a control frame on the current socket without buffering.
func (m *Manager) write(v any) {
	data, frameType, err := encode(v)
	if err != nil || m.sock == nil {
		return
	}
	if err := m.sock.Send(data); err != nil {
		m.logger.Warn("control frame send failed", "type", frameType, "error", err)
		return
	}
	m.metrics.frame("outbound", frameType)
}

func (m *Manager) enqueue(data []byte) {
	dropped := m.queue.push(data)
	if dropped {
		m.logger.Warn("outbound queue full, dropped oldest frame", "capacity", m.cfg.QueueSize)
	}
	m.metrics.queue(m.queue.len(), dropped)
}

func (m *Manager) flush() {
	frames := m.queue.drain()
	m.metrics.queue(0, false)
	if len(frames) > 0 {
		m.logger.Debug("flushing outbound queue", "frames", len(frames))
	}
	for i, data := range frames {
		if m.sock == nil || m.state != StateConnected {
			for _, rest := range frames[i:] {
				m.queue.push(rest)
			}
			m.metrics.queue(m.queue.len(), false)
			return
		}
		if err := m.sock.Send(data); err != nil {
			m.logger.Warn("flush send failed", "error", err)
			for _, rest := range frames[i:] {
				m.queue.push(rest)
			}
			m.metrics.queue(m.queue.len(), false)
			return
		}
		m.metrics.frame("outbound", frameTypeOf(data))
	}
}

func (m *Manager) dial(reconnecting bool) {
	m.gen++
	gen := m.gen
	target := m.url

	m.transition(StateConnecting, StateChange{URL: target, Reconnecting: reconnecting})
	if gen != m.gen {
		// A listener disconnected or migrated during the transition.
		return
	}

	dialURL, err := withToken(target, m.creds.Token())
	if err != nil {
		m.connectFailed(ErrConnection("invalid push url", err).WithContext("url", target))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel
	events := Events{
		OnMessage: func(data []byte) {
			m.sched.Post(func() {
				if m.gen == gen {
					m.handleMessage(data)
				}
			})
		},
		OnClose: func(code int, reason string) {
			m.sched.Post(func() {
				if m.gen == gen {
					m.handleClose(code, reason)
				}
			})
		},
	}
	m.logger.Info("dialing push channel", "url", target, "attempt", m.attempt)
	m.sched.Go(func() {
		sock, err := m.dialer.Dial(ctx, dialURL, events)
		m.sched.Post(func() { m.dialDone(gen, sock, err) })
	})
}

func (m *Manager) dialDone(gen uint64, sock Socket, err error) {
	if gen != m.gen {
		if sock != nil {
			_ = sock.Close(auth.CloseNormal, "superseded")
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if err != nil {
		var hs *HandshakeError
		if errors.As(err, &hs) && hs.CloseCode != 0 {
			m.handleClose(hs.CloseCode, fmt.Sprintf("handshake status %d", hs.Status))
			return
		}
		m.connectFailed(ErrConnection("failed to open push channel", err).WithContext("url", m.url))
		return
	}

	m.sock = sock
	m.attempt = 0
	m.nextDelay = 0
	m.exhausted = false
	m.lastConnected = m.sched.Now()
	m.disconnectedAt = time.Time{}
	m.logger.Info("push channel connected", "url", m.url)
	m.startHeartbeat(gen)

	m.transition(StateConnected, StateChange{URL: m.url})
	if gen != m.gen || m.state != StateConnected {
		return
	}
	for _, sub := range m.subs {
		if !sub.live {
			m.sendSubscribe(sub)
		}
	}
	m.flush()
}

func (m *Manager) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.reportError(ErrValidation("malformed frame", err).WithContext("size", len(data)))
		return
	}
	m.metrics.frame("inbound", env.Type)
	if env.Type == "pong" {
		m.logger.Debug("heartbeat acknowledged")
		return
	}

	frame := Frame{Type: env.Type, Channel: env.Channel, Data: data}
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if env.Channel == "" || sub.channel == env.Channel {
			subs = append(subs, sub)
		}
	}
	for _, sub := range subs {
		if sub.handler != nil && m.owns(sub) {
			sub.handler(frame)
		}
	}
}

func (m *Manager) handleClose(code int, reason string) {
	m.gen++
	m.sock = nil
	m.stopTimers()
	m.markSubsStale()

	outcome := m.creds.InterpretClose(code, reason)
	switch {
	case outcome.IsAuth():
		m.authFailed(outcome)
	case outcome.Kind == auth.OutcomeNormal:
		m.logger.Info("push channel closed by server", "code", code, "reason", reason)
		m.transition(StateDisconnected, StateChange{URL: m.url})
	default:
		m.logger.Warn("push channel lost", "code", code, "reason", reason)
		m.scheduleRetry(FromOutcome(outcome))
	}
}

func (m *Manager) connectFailed(err *Error) {
	m.logger.Warn("push channel connect failed", "error", err)
	m.scheduleRetry(err)
}

func (m *Manager) scheduleRetry(cause *Error) {
	now := m.sched.Now()
	if m.disconnectedAt.IsZero() {
		m.disconnectedAt = now
	}
	if m.attempt >= m.cfg.MaxAttempts {
		m.exhausted = true
		m.nextDelay = 0
		m.logger.Warn("reconnect attempts exhausted", "attempts", m.attempt, "url", m.url)
		m.transition(StateError, StateChange{URL: m.url, Exhausted: true, Err: cause})
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempt)
	m.attempt++
	m.nextDelay = delay
	m.metrics.reconnect()
	m.logger.Info("scheduling reconnect", "attempt", m.attempt, "delay", delay)

	gen := m.gen
	m.reconnectTimer = m.sched.AfterFunc(delay, func() {
		m.reconnectTimer = nil
		if gen != m.gen {
			return
		}
		m.dial(true)
	})
	m.transition(StateDisconnected, StateChange{URL: m.url, WillRetry: true, NextDelay: delay, Err: cause})
}

func (m *Manager) authFailed(o auth.Outcome) {
	if err := m.creds.Apply(o); err != nil {
		m.logger.Error("applying authentication outcome failed", "error", err)
	}
	e := FromOutcome(o)
	m.nextDelay = 0
	m.transition(StateAuthError, StateChange{URL: m.url, Err: e})
	m.reportError(e)
}

func (m *Manager) reportError(e *Error) {
	m.metrics.recordError(e.Code)
	if e.Code == ErrCodeValidation {
		m.logger.Warn("frame rejected", "error", e)
	}
	m.errorListeners.Emit(e)
}

func (m *Manager) startHeartbeat(gen uint64) {
	m.heartbeatTimer = m.sched.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeatTimer = nil
		if gen != m.gen || m.state != StateConnected {
			return
		}
		m.write(pingFrame{Type: "ping", Timestamp: m.sched.Now().UnixMilli()})
		m.startHeartbeat(gen)
	})
}

func (m *Manager) stopTimers() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

// dropSocket invalidates in-flight callbacks and closes any open socket.
func (m *Manager) dropSocket(code int, reason string) {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.sock != nil {
		if err := m.sock.Close(code, reason); err != nil {
			m.logger.Debug("socket close failed", "error", err)
		}
		m.sock = nil
	}
	m.markSubsStale()
}

func (m *Manager) markSubsStale() {
	for _, sub := range m.subs {
		sub.live = false
	}
}

func (m *Manager) transition(to State, change StateChange) {
	change.From = m.state
	change.To = to
	change.Attempt = m.attempt
	if change.NextDelay == 0 {
		change.NextDelay = m.nextDelay
	}
	change.At = m.sched.Now()
	change.DisconnectedAt = m.disconnectedAt
	m.state = to
	m.metrics.setState(to)
	m.stateListeners.Emit(change)
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if token == "" {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encode(v any) ([]byte, string, error) {
	var data []byte
	switch val := v.(type) {
	case []byte:
		data = val
	case json.RawMessage:
		data = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, "", errors.New("frame is not valid JSON")
	}
	return data, frameTypeOf(data), nil
}

func frameTypeOf(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}
