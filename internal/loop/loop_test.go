package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	l, _ := startLoop(t)
	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() { results <- i })
	}
	for want := 0; want < 3; want++ {
		select {
		case got := <-results:
			if got != want {
				t.Fatalf("got %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for posted work")
		}
	}
}

func TestLoopAfterFuncAndStop(t *testing.T) {
	l, _ := startLoop(t)
	fired := make(chan struct{}, 1)
	var stoppedRan atomic.Bool

	var stopped Timer
	if err := Call(context.Background(), l, func() {
		stopped = l.AfterFunc(20*time.Millisecond, func() { stoppedRan.Store(true) })
		l.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	_ = Call(context.Background(), l, func() {
		if !stopped.Stop() {
			t.Error("Stop() = false for pending timer")
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(40 * time.Millisecond)
	if stoppedRan.Load() {
		t.Fatal("stopped timer ran")
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	l, _ := startLoop(t)
	l.Post(func() { panic("boom") })
	if err := Call(context.Background(), l, func() {}); err != nil {
		t.Fatalf("loop stopped after panic: %v", err)
	}
}

func TestLoopRejectsSecondRun(t *testing.T) {
	l, _ := startLoop(t)
	// Wait for the first Run to be active.
	_ = Call(context.Background(), l, func() {})
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected error for concurrent Run")
	}
}

func TestCallHonorsContext(t *testing.T) {
	l := New(nil) // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Call(ctx, l, func() {}); err == nil {
		t.Fatal("expected context error when loop is not running")
	}
}
