package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a message, room or user identifier. The backend emits both numeric
// and string identifiers; ID normalizes either form to a string.
type ID string

// UnmarshalJSON accepts JSON strings and numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric identifiers as numbers so round trips keep the
// backend's representation.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// MessageType classifies chat message payloads.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// User describes a chat participant (message sender, typing user, member).
type User struct {
	ID          ID     `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"is_online,omitempty"`
}

// Name returns the best display name available for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	return string(u.ID)
}

// TypingUser is a user currently composing a message in a room. Entries are
// ephemeral and expire after a quiet period unless refreshed.
type TypingUser struct {
	User
	RoomID ID `json:"room_id,omitempty"`
}

// ChatMessage is a message as delivered by the backend. Values are treated as
// immutable once received; edits and deletes arrive as separate events.
type ChatMessage struct {
	ID        ID          `json:"id"`
	RoomID    ID          `json:"room,omitempty"`
	ThreadID  ID          `json:"thread,omitempty"`
	Sender    *User       `json:"sender,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type,omitempty"`
	File      string      `json:"file,omitempty"`
	Image     string      `json:"image,omitempty"`
	IsEdited  bool        `json:"is_edited,omitempty"`
	IsPinned  bool        `json:"is_pinned,omitempty"`
	IsRead    bool        `json:"is_read,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// HasBody reports whether the message carries any deliverable payload.
func (m ChatMessage) HasBody() bool {
	return strings.TrimSpace(m.Content) != "" || m.File != "" || m.Image != ""
}

// Kind returns the message type, inferring it from attachments when the
// backend omitted it.
func (m ChatMessage) Kind() MessageType {
	if m.Type != "" {
		return m.Type
	}
	switch {
	case m.Image != "":
		return MessageImage
	case m.File != "":
		return MessageFile
	default:
		return MessageText
	}
}
