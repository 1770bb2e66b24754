package chat

import (
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

// Handlers receive typed events for the active scope. Nil handlers are
// skipped.
type Handlers struct {
	OnMessage         func(models.ChatMessage)
	OnMessageEdited   func(models.ChatMessage)
	OnMessageDeleted  func(models.ID)
	OnMessagePinned   func(Pin)
	OnTypingStart     func(models.TypingUser)
	OnTypingStop      func(models.TypingUser)
	OnUserJoined      func(models.User)
	OnUserLeft        func(models.User)
	OnRoomHistory     func([]models.ChatMessage)
	OnMessageAck      func(Ack)
	OnRoomLockToggled func(RoomLock)
	OnUserMuteToggled func(UserMute)
	OnConnected       func()
	OnError           func(*transport.Error)
	OnStatusChange    func(transport.State)
}
