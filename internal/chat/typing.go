package chat

import (
	"time"

	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/pkg/models"
)

// typingTracker owns the outbound typing-stop timers (one per room) and the
// expiry of remote typing indicators.
type typingTracker struct {
	sched   loop.Scheduler
	timeout time.Duration

	outbound map[models.ID]loop.Timer
	remote   map[typingKey]*remoteTyping
}

type typingKey struct {
	room models.ID
	user models.ID
}

type remoteTyping struct {
	user  models.TypingUser
	timer loop.Timer
}

func newTypingTracker(sched loop.Scheduler, timeout time.Duration) *typingTracker {
	return &typingTracker{
		sched:    sched,
		timeout:  timeout,
		outbound: make(map[models.ID]loop.Timer),
		remote:   make(map[typingKey]*remoteTyping),
	}
}

// arm replaces the outbound timer for room.
func (t *typingTracker) arm(room models.ID, fire func()) {
	if old, ok := t.outbound[room]; ok {
		old.Stop()
	}
	var timer loop.Timer
	timer = t.sched.AfterFunc(t.timeout, func() {
		if t.outbound[room] == timer {
			delete(t.outbound, room)
		}
		fire()
	})
	t.outbound[room] = timer
}

// start records a remote typing user, refreshing its expiry. onStart fires
// only when the user was not already typing.
func (t *typingTracker) start(u models.TypingUser, onStart, onStop func(models.TypingUser)) {
	key := typingKey{room: u.RoomID, user: u.ID}
	entry, exists := t.remote[key]
	if exists {
		entry.timer.Stop()
		entry.user = u
	} else {
		entry = &remoteTyping{user: u}
		t.remote[key] = entry
	}
	entry.timer = t.sched.AfterFunc(t.timeout, func() {
		if t.remote[key] != entry {
			return
		}
		delete(t.remote, key)
		if onStop != nil {
			onStop(entry.user)
		}
	})
	if !exists && onStart != nil {
		onStart(u)
	}
}

// stop clears a remote typing user, firing onStop if it was tracked.
func (t *typingTracker) stop(u models.TypingUser, onStop func(models.TypingUser)) {
	key := typingKey{room: u.RoomID, user: u.ID}
	entry, ok := t.remote[key]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(t.remote, key)
	if onStop != nil {
		onStop(entry.user)
	}
}

// observeMessage clears the sender's typing indicator.
func (t *typingTracker) observeMessage(msg models.ChatMessage, onStop func(models.TypingUser)) {
	if msg.Sender == nil {
		return
	}
	room := msg.RoomID
	if _, ok := t.remote[typingKey{room: room, user: msg.Sender.ID}]; !ok {
		// Typing frames may omit the room; fall back to any entry for the sender.
		for key := range t.remote {
			if key.user == msg.Sender.ID {
				room = key.room
				break
			}
		}
	}
	t.stop(models.TypingUser{User: *msg.Sender, RoomID: room}, onStop)
}

// typing reports the remote users currently typing.
func (t *typingTracker) typing() []models.TypingUser {
	out := make([]models.TypingUser, 0, len(t.remote))
	for _, entry := range t.remote {
		out = append(out, entry.user)
	}
	return out
}

func (t *typingTracker) stopAll() {
	for room, timer := range t.outbound {
		timer.Stop()
		delete(t.outbound, room)
	}
	for key, entry := range t.remote {
		entry.timer.Stop()
		delete(t.remote, key)
	}
}
