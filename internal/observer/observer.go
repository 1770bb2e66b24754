// Package observer provides an ordered listener list whose registrations
// return stable removal tokens.
package observer

// List holds listeners of type func(T). It is not safe for concurrent use;
// callers confine it to one goroutine (the event loop).
type List[T any] struct {
	next    uint64
	entries []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Add registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (l *List[T]) Add(fn func(T)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	l.next++
	id := l.next
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})
	return func() { l.remove(id) }
}

// Emit calls every listener registered at the time of the call, in
// registration order. Listeners added during Emit are not called; listeners
// removed during Emit are skipped.
func (l *List[T]) Emit(v T) {
	snapshot := make([]entry[T], len(l.entries))
	copy(snapshot, l.entries)
	for _, e := range snapshot {
		if !l.has(e.id) {
			continue
		}
		e.fn(v)
	}
}

// Snapshot returns the registered listeners in registration order. Callers
// that guard the list with a mutex use it to invoke listeners unlocked.
func (l *List[T]) Snapshot() []func(T) {
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// Len returns the number of registered listeners.
func (l *List[T]) Len() int { return len(l.entries) }

// Clear removes every listener.
func (l *List[T]) Clear() { l.entries = nil }

func (l *List[T]) remove(id uint64) {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *List[T]) has(id uint64) bool {
	for _, e := range l.entries {
		if e.id == id {
			return true
		}
	}
	return false
}
