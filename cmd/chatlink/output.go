package main

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/haasonsaas/chatlink/internal/chat"
	"github.com/haasonsaas/chatlink/internal/fallback"
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

// event is one line of tail output.
type event struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// eventPrinter writes events as JSON lines.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), now: time.Now}
}

func (p *eventPrinter) print(name string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(event{Time: p.now().UTC(), Event: name, Data: data})
}

// handlers prints every chat event.
func (p *eventPrinter) handlers() chat.Handlers {
	return chat.Handlers{
		OnMessage:         func(m models.ChatMessage) { p.print("message", m) },
		OnMessageEdited:   func(m models.ChatMessage) { p.print("message_edited", m) },
		OnMessageDeleted:  func(id models.ID) { p.print("message_deleted", map[string]models.ID{"id": id}) },
		OnMessagePinned:   func(pin chat.Pin) { p.print("message_pinned", pin) },
		OnTypingStart:     func(u models.TypingUser) { p.print("typing_start", u) },
		OnTypingStop:      func(u models.TypingUser) { p.print("typing_stop", u) },
		OnUserJoined:      func(u models.User) { p.print("user_joined", u) },
		OnUserLeft:        func(u models.User) { p.print("user_left", u) },
		OnRoomHistory:     func(msgs []models.ChatMessage) { p.print("room_history", msgs) },
		OnMessageAck:      func(a chat.Ack) { p.print("message_ack", a) },
		OnRoomLockToggled: func(l chat.RoomLock) { p.print("room_lock_toggled", l) },
		OnUserMuteToggled: func(m chat.UserMute) { p.print("user_mute_toggled", m) },
		OnConnected:       func() { p.print("connected", nil) },
		OnError: func(e *transport.Error) {
			p.print("error", map[string]any{"code": e.Code, "message": e.Message, "context": e.Context})
		},
		OnStatusChange: func(s transport.State) { p.print("status", map[string]transport.State{"state": s}) },
	}
}

func (p *eventPrinter) modeChange(mc fallback.ModeChange) {
	p.print("fallback_mode", map[string]any{"from": mc.From, "to": mc.To, "reason": mc.Reason})
}
