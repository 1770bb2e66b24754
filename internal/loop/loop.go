// Package loop provides the single event loop that owns all transport,
// session and fallback state. Work that blocks (dialing, HTTP fetches) runs
// off-loop via Go and posts its result back; timers fire on the loop.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a pending callback scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the timer
	// was still pending.
	Stop() bool
}

// Scheduler runs continuations on a single logical thread.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time
	// Post enqueues fn to run on the loop after everything already queued.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Go runs blocking work off the loop. fn must use Post to touch loop state.
	Go(fn func())
}

// Loop is the production Scheduler backed by one goroutine.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running atomic.Bool
}

// New creates a loop. Call Run to start processing.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "loop"),
		wake:   make(chan struct{}, 1),
	}
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return time.Now() }

// Post implements Scheduler. It never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			// Stop may have been called between expiry and this task running.
			if t.done.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}

// Go implements Scheduler.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Run processes posted work until ctx is cancelled. Only one Run may be
// active at a time.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop already running")
	}
	defer l.running.Store(false)

	for {
		for _, fn := range l.take() {
			l.exec(fn)
		}
		select {
		case <-ctx.Done():
			// Drain what is already queued so shutdown work posted before
			// cancellation (timer stops, socket closes) still runs.
			for _, fn := range l.take() {
				l.exec(fn)
			}
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

type loopTimer struct {
	timer *time.Timer
	done  atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.done.Swap(true) {
		return false
	}
	t.timer.Stop()
	return true
}

// Call posts fn to s and waits for it to finish or for ctx to end.
func Call(ctx context.Context, s Scheduler, fn func()) error {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
