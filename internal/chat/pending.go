package chat

import (
	"context"

	"github.com/haasonsaas/chatlink/internal/loop"
)

// Pending is the result of a room connect. It settles once, on the loop;
// Wait may be called from any number of goroutines.
type Pending struct {
	done    chan struct{}
	settled bool
	ok      bool
	err     error
	timer   loop.Timer
	thens   []func(bool, error)
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolvedPending() *Pending {
	p := newPending()
	p.settle(true, nil)
	return p
}

// Done is closed when the result is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the connect settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		return p.ok, p.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Then registers fn to run on the loop when the result is available. It
// runs immediately if the result is already known. Must be called on the loop.
func (p *Pending) Then(fn func(ok bool, err error)) {
	if p.settled {
		fn(p.ok, p.err)
		return
	}
	p.thens = append(p.thens, fn)
}

func (p *Pending) settle(ok bool, err error) {
	if p.settled {
		return
	}
	p.settled = true
	p.ok, p.err = ok, err
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	close(p.done)
	thens := p.thens
	p.thens = nil
	for _, fn := range thens {
		fn(ok, err)
	}
}
