// Package chat attaches a push channel to one conversation scope, validates
// inbound frames and dispatches them as typed events.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultTypingTimeout  = 3 * time.Second
)

var (
	// ErrEmptyContent is returned for messages with no visible content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrTimeout is returned when a room connect does not complete in time.
	ErrTimeout = errors.New("timed out connecting to chat")
	// ErrSuperseded is returned when a pending connect was replaced by
	// another scope or by a disconnect.
	ErrSuperseded = errors.New("connection superseded")
	// ErrNotInScope is returned when sending to a scope that is not active.
	ErrNotInScope = errors.New("not connected to this conversation")

	errNoBody = errors.New("chat message has no content, file or image")
)

// Conn is the push channel used by a session.
type Conn interface {
	Connect(url string)
	Disconnect()
	Send(v any) error
	Subscribe(channel string, handler transport.FrameHandler) *transport.Subscription
	Unsubscribe(id string) bool
	Resubscribe(sub *transport.Subscription)
	OnStateChange(fn func(transport.StateChange)) func()
	OnError(fn func(*transport.Error)) func()
	State() transport.State
}

// Gate decides when a pushed message may be delivered. It either calls
// deliver immediately or holds the message and calls deliver later.
type Gate interface {
	Admit(msg models.ChatMessage, deliver func(models.ChatMessage))
}

// Config tunes a session.
type Config struct {
	// BaseURL is the push endpoint root, e.g. wss://host/ws.
	BaseURL        string
	ConnectTimeout time.Duration
	TypingTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	return c
}

// Deps are the session's collaborators.
type Deps struct {
	Scheduler loop.Scheduler
	Conn      Conn
	Logger    *slog.Logger
}

// Session manages the active conversation scope on one connection. All
// methods must run on the loop.
type Session struct {
	cfg    Config
	sched  loop.Scheduler
	conn   Conn
	logger *slog.Logger
	gate   Gate

	scope    Scope
	active   bool
	handlers Handlers
	sub      *transport.Subscription
	pending  []*Pending
	status   transport.State

	typing *typingTracker

	unhook []func()
}

// NewSession creates a session bound to conn.
func NewSession(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg.withDefaults(),
		sched:  deps.Scheduler,
		conn:   deps.Conn,
		logger: logger.With("component", "chat"),
		status: deps.Conn.State(),
	}
	s.typing = newTypingTracker(s.sched, s.cfg.TypingTimeout)
	s.unhook = append(s.unhook,
		s.conn.OnStateChange(s.onStateChange),
		s.conn.OnError(s.onError),
	)
	return s
}

// SetGate installs the delivery gate for pushed messages.
func (s *Session) SetGate(g Gate) { s.gate = g }

// Scope returns the active scope and whether one is attached.
func (s *Session) Scope() (Scope, bool) { return s.scope, s.active }

// Status returns the last observed connection state.
func (s *Session) Status() transport.State { return s.status }

// ConnectToGeneral attaches the session to the global channel.
func (s *Session) ConnectToGeneral(h Handlers) *Pending {
	return s.connect(General(), h)
}

// ConnectToRoom attaches the session to a room. The returned Pending
// resolves once connected and rejects after the connect timeout or on an
// authentication or exhaustion failure.
func (s *Session) ConnectToRoom(id models.ID, h Handlers) *Pending {
	return s.connect(Room(id), h)
}

func (s *Session) connect(scope Scope, h Handlers) *Pending {
	if s.active && s.scope == scope {
		s.handlers = h
		if s.conn.State() == transport.StateConnected {
			return resolvedPending()
		}
	} else {
		if s.active {
			s.logger.Info("switching conversation", "from", s.scope, "to", scope)
			s.detach(ErrSuperseded)
		}
		s.scope = scope
		s.active = true
		s.handlers = h
	}

	p := newPending()
	s.pending = append(s.pending, p)
	p.timer = s.sched.AfterFunc(s.cfg.ConnectTimeout, func() {
		p.timer = nil
		s.dropPending(p)
		s.logger.Warn("connect timed out", "scope", s.scope, "timeout", s.cfg.ConnectTimeout)
		p.settle(false, ErrTimeout)
	})

	if s.sub == nil {
		s.sub = s.conn.Subscribe(scope.Channel(), s.handleFrame)
	}
	s.conn.Connect(scope.URL(s.cfg.BaseURL))
	return p
}

// DisconnectFromRoom leaves room id. Leaving a room that is not the active
// scope is a no-op.
func (s *Session) DisconnectFromRoom(id models.ID) {
	if !s.active || s.scope != Room(id) {
		s.logger.Debug("disconnect for inactive room ignored", "room", id)
		return
	}
	s.Disconnect()
}

// Disconnect detaches from the active scope and closes the connection.
func (s *Session) Disconnect() {
	if !s.active {
		return
	}
	s.logger.Info("leaving conversation", "scope", s.scope)
	s.detach(ErrSuperseded)
	s.active = false
	s.handlers = Handlers{}
	s.conn.Disconnect()
}

// Close disconnects and unregisters from the connection.
func (s *Session) Close() {
	s.Disconnect()
	for _, fn := range s.unhook {
		fn()
	}
	s.unhook = nil
}

func (s *Session) detach(reason error) {
	if s.sub != nil {
		s.conn.Unsubscribe(s.sub.ID())
		s.sub = nil
	}
	s.typing.stopAll()
	s.rejectPending(reason)
}

// SendMessage sends content to scope. Whitespace-only content is rejected
// without touching the network.
func (s *Session) SendMessage(scope Scope, content string) error {
	if strings.TrimSpace(content) == "" {
		s.logger.Warn("refusing to send empty message", "scope", scope)
		return ErrEmptyContent
	}
	if err := s.checkScope(scope); err != nil {
		return err
	}
	return s.conn.Send(outboundMessage{Type: TypeChatMessage, Content: content, Room: scope.RoomID})
}

// SendTyping announces that the local user is typing in scope.
func (s *Session) SendTyping(scope Scope) error {
	if err := s.checkScope(scope); err != nil {
		return err
	}
	return s.conn.Send(outboundTyping{Type: TypeTyping, Room: scope.RoomID})
}

// StartTypingTimer arms the typing-stop timer for room, replacing any timer
// already armed. When it fires a typing_stop frame is sent.
func (s *Session) StartTypingTimer(room models.ID) {
	s.typing.arm(room, func() {
		if err := s.conn.Send(outboundTyping{Type: TypeTypingStop, Room: room}); err != nil {
			s.logger.Warn("typing stop failed", "room", room, "error", err)
		}
	})
}

// MarkRead reports that messageID was read.
func (s *Session) MarkRead(messageID models.ID) error {
	if messageID == "" {
		return errors.New("mark read: message id is required")
	}
	return s.conn.Send(outboundMarkRead{Type: TypeMarkRead, MessageID: messageID})
}

func (s *Session) checkScope(scope Scope) error {
	if !s.active || s.scope != scope {
		return fmt.Errorf("%w: %s", ErrNotInScope, scope)
	}
	return nil
}

// TypingUsers returns the remote users currently typing, ordered by room
// and user id.
func (s *Session) TypingUsers() []models.TypingUser {
	users := s.typing.typing()
	sort.Slice(users, func(i, j int) bool {
		if users[i].RoomID != users[j].RoomID {
			return users[i].RoomID < users[j].RoomID
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// ActiveRoom returns the room currently attached, if any.
func (s *Session) ActiveRoom() (models.ID, bool) {
	if !s.active || !s.scope.IsRoom() {
		return "", false
	}
	return s.scope.RoomID, true
}

// DeliverMessage hands a message to the OnMessage handler.
func (s *Session) DeliverMessage(msg models.ChatMessage) {
	s.typing.observeMessage(msg, s.handlers.OnTypingStop)
	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(msg)
	}
}

// DeliverHistory hands a full history snapshot to OnRoomHistory.
func (s *Session) DeliverHistory(msgs []models.ChatMessage) {
	if s.handlers.OnRoomHistory != nil {
		s.handlers.OnRoomHistory(msgs)
	}
}

// ReportError hands err to the OnError handler.
func (s *Session) ReportError(err *transport.Error) {
	if s.active && s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *Session) onStateChange(c transport.StateChange) {
	s.status = c.To
	if !s.active {
		return
	}
	if s.handlers.OnStatusChange != nil {
		s.handlers.OnStatusChange(c.To)
	}

	switch c.To {
	case transport.StateConnected:
		if s.sub != nil {
			s.conn.Resubscribe(s.sub)
		} else {
			s.sub = s.conn.Subscribe(s.scope.Channel(), s.handleFrame)
		}
		s.resolvePending()
	case transport.StateAuthError, transport.StateError:
		err := c.Err
		if err == nil {
			err = transport.ErrConnection("reconnect attempts exhausted", nil)
		}
		s.rejectPending(err)
	case transport.StateDisconnected:
		if c.Intentional {
			s.sub = nil
			s.rejectPending(ErrSuperseded)
		}
	}
}

func (s *Session) onError(e *transport.Error) {
	s.ReportError(e)
}

func (s *Session) resolvePending() {
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		p.settle(true, nil)
	}
}

func (s *Session) rejectPending(err error) {
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		p.settle(false, err)
	}
}

func (s *Session) dropPending(target *Pending) {
	for i, p := range s.pending {
		if p == target {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Session) handleFrame(f transport.Frame) {
	if !s.active {
		return
	}
	if err := validateFrame(f.Type, f.Data); err != nil {
		s.reject(f, err)
		return
	}
	var frame inboundFrame
	if err := json.Unmarshal(f.Data, &frame); err != nil {
		s.reject(f, err)
		return
	}
	if err := s.dispatch(frame); err != nil {
		s.reject(f, err)
	}
}

func (s *Session) reject(f transport.Frame, err error) {
	e := transport.ErrValidation("invalid frame", err).WithContext("type", f.Type)
	s.logger.Warn("dropping invalid frame", "type", f.Type, "error", err)
	s.ReportError(e)
}

func (s *Session) dispatch(f inboundFrame) error {
	h := s.handlers
	switch f.Type {
	case TypeChatMessage:
		msg, err := f.chatMessage()
		if err != nil {
			return err
		}
		if !msg.HasBody() {
			return errNoBody
		}
		if s.gate != nil {
			s.gate.Admit(msg, s.DeliverMessage)
		} else {
			s.DeliverMessage(msg)
		}
	case TypeMessageEdited:
		msg, err := f.chatMessage()
		if err != nil {
			return err
		}
		if h.OnMessageEdited != nil {
			h.OnMessageEdited(msg)
		}
	case TypeMessageDeleted:
		if h.OnMessageDeleted != nil {
			h.OnMessageDeleted(f.MessageID)
		}
	case TypeMessagePinned:
		pin := Pin{MessageID: f.MessageID, Pinned: true}
		if len(f.Message) > 0 {
			msg, err := f.chatMessage()
			if err != nil {
				return err
			}
			pin.Message = &msg
			pin.MessageID = msg.ID
			pin.Pinned = msg.IsPinned
		}
		if f.IsPinned != nil {
			pin.Pinned = *f.IsPinned
		}
		if h.OnMessagePinned != nil {
			h.OnMessagePinned(pin)
		}
	case TypeTypingStart, TypeTyping:
		s.typing.start(s.typingUser(f), h.OnTypingStart, h.OnTypingStop)
	case TypeTypingStop:
		s.typing.stop(s.typingUser(f), h.OnTypingStop)
	case TypeUserJoined:
		if h.OnUserJoined != nil {
			h.OnUserJoined(*f.User)
		}
	case TypeUserLeft:
		s.typing.stop(s.typingUser(f), h.OnTypingStop)
		if h.OnUserLeft != nil {
			h.OnUserLeft(*f.User)
		}
	case TypeRoomHistory:
		s.DeliverHistory(f.Messages)
	case TypeMessageAck:
		if h.OnMessageAck != nil {
			h.OnMessageAck(Ack{MessageID: f.MessageID, Status: f.Status})
		}
	case TypeRoomLockToggled:
		var lock RoomLock
		if err := json.Unmarshal(f.Data, &lock); err != nil {
			return err
		}
		if lock.RoomID == "" {
			lock.RoomID = s.scope.RoomID
		}
		if h.OnRoomLockToggled != nil {
			h.OnRoomLockToggled(lock)
		}
	case TypeUserMuteToggled:
		var mute UserMute
		if err := json.Unmarshal(f.Data, &mute); err != nil {
			return err
		}
		if mute.RoomID == "" {
			mute.RoomID = s.scope.RoomID
		}
		if h.OnUserMuteToggled != nil {
			h.OnUserMuteToggled(mute)
		}
	case TypeError:
		e := transport.ErrServer(f.errorText())
		if f.Code != nil {
			e.WithContext("code", f.Code)
		}
		s.ReportError(e)
	case TypeConnectionEstablished:
		if h.OnConnected != nil {
			h.OnConnected()
		}
	}
	return nil
}

func (s *Session) typingUser(f inboundFrame) models.TypingUser {
	tu := models.TypingUser{RoomID: f.Room}
	if f.User != nil {
		tu.User = *f.User
	}
	if tu.RoomID == "" {
		tu.RoomID = s.scope.RoomID
	}
	return tu
}
