package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by a virtual clock. Posted work
// runs synchronously on the caller's goroutine; work posted while another
// task is running is queued behind it. Go runs inline. Manual is not safe for
// concurrent use and is intended for tests and simulations.
type Manual struct {
	now     time.Time
	queue   []func()
	running bool
	timers  []*manualTimer
	seq     uint64
}

// NewManual creates a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time { return m.now }

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	if fn == nil {
		return
	}
	m.queue = append(m.queue, fn)
	if m.running {
		return
	}
	m.drain()
}

// Go implements Scheduler.
func (m *Manual) Go(fn func()) { fn() }

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{owner: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.remove(next)
		m.Post(next.fn)
	}
	m.now = target
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int { return len(m.timers) }

// NextDeadline returns the earliest armed timer deadline.
func (m *Manual) NextDeadline() (time.Time, bool) {
	if len(m.timers) == 0 {
		return time.Time{}, false
	}
	m.sortTimers()
	return m.timers[0].at, true
}

func (m *Manual) drain() {
	m.running = true
	defer func() { m.running = false }()
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	m.sortTimers()
	if m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) sortTimers() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
}

func (m *Manual) remove(t *manualTimer) bool {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	owner *Manual
	at    time.Time
	seq   uint64
	fn    func()
}

func (t *manualTimer) Stop() bool {
	return t.owner.remove(t)
}
