package chat

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/chatlink/pkg/models"
)

// Inbound frame types.
const (
	TypeChatMessage           = "chat_message"
	TypeMessageEdited         = "message_edited"
	TypeMessageDeleted        = "message_deleted"
	TypeMessagePinned         = "message_pinned"
	TypeTypingStart           = "typing_start"
	TypeTyping                = "typing"
	TypeTypingStop            = "typing_stop"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeRoomHistory           = "room_history"
	TypeMessageAck            = "message_ack"
	TypeRoomLockToggled       = "room_lock_toggled"
	TypeUserMuteToggled       = "user_mute_toggled"
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
)

// Outbound-only frame types.
const (
	TypeMarkRead = "mark_read"
)

// inboundFrame is the decoded envelope after schema validation. Message is
// kept raw because error frames carry a string there.
type inboundFrame struct {
	Type      string               `json:"type"`
	Message   json.RawMessage      `json:"message,omitempty"`
	User      *models.User         `json:"user,omitempty"`
	Messages  []models.ChatMessage `json:"messages,omitempty"`
	Error     string               `json:"error,omitempty"`
	Code      any                  `json:"code,omitempty"`
	Data      json.RawMessage      `json:"data,omitempty"`
	MessageID models.ID            `json:"message_id,omitempty"`
	Status    string               `json:"status,omitempty"`
	Room      models.ID            `json:"room,omitempty"`
	IsPinned  *bool                `json:"is_pinned,omitempty"`
}

func (f inboundFrame) chatMessage() (models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := json.Unmarshal(f.Message, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// errorText returns the server error description from an error frame.
func (f inboundFrame) errorText() string {
	if f.Error != "" {
		return f.Error
	}
	var s string
	if err := json.Unmarshal(f.Message, &s); err == nil && s != "" {
		return s
	}
	return "server error"
}

// Ack confirms delivery of an outbound message.
type Ack struct {
	MessageID models.ID `json:"message_id"`
	Status    string    `json:"status,omitempty"`
}

// Pin reports a pin state change.
type Pin struct {
	MessageID models.ID
	Pinned    bool
	Message   *models.ChatMessage
}

// RoomLock reports that a room was locked or unlocked.
type RoomLock struct {
	RoomID models.ID `json:"room_id,omitempty"`
	Locked bool      `json:"is_locked"`
}

// UserMute reports that a user was muted or unmuted in a room.
type UserMute struct {
	UserID models.ID `json:"user_id"`
	RoomID models.ID `json:"room_id,omitempty"`
	Muted  bool      `json:"is_muted"`
}

type outboundMessage struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	Room    models.ID `json:"room,omitempty"`
}

type outboundTyping struct {
	Type string    `json:"type"`
	Room models.ID `json:"room,omitempty"`
}

type outboundMarkRead struct {
	Type      string    `json:"type"`
	MessageID models.ID `json:"message_id"`
}
