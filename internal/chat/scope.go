package chat

import (
	"net/url"
	"strings"

	"github.com/haasonsaas/chatlink/pkg/models"
)

const generalChannel = "general"

// Scope is the conversation a session is attached to: the global channel or
// one room.
type Scope struct {
	RoomID models.ID
}

// General is the global scope.
func General() Scope { return Scope{} }

// Room is the scope of one room.
func Room(id models.ID) Scope { return Scope{RoomID: id} }

// IsRoom reports whether the scope is a room.
func (s Scope) IsRoom() bool { return s.RoomID != "" }

// Channel is the push-channel subscription name for the scope.
func (s Scope) Channel() string {
	if s.IsRoom() {
		return string(s.RoomID)
	}
	return generalChannel
}

func (s Scope) String() string {
	if s.IsRoom() {
		return "room:" + string(s.RoomID)
	}
	return generalChannel
}

// URL builds the push url {base}/chat/{general|roomId}/.
func (s Scope) URL(base string) string {
	return strings.TrimRight(base, "/") + "/chat/" + url.PathEscape(s.Channel()) + "/"
}
