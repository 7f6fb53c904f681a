// Package engine is the realtime view-sync core: a single-threaded event
// loop, the subscription manager, snapshot reducers, the optimistic
// mutation queue and the cross-view coordinator.
//
// Every type in this package except Loop is confined to the loop: its
// methods must only be called from a task running on the loop (a callback
// delivered by the engine, or a function passed to Post or Call). Remote
// listener goroutines and mutation goroutines re-enter through Post.
package engine

import (
	"context"
	"runtime/debug"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Loop is a FIFO of tasks run one at a time.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It never blocks and is safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from a task already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
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

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.Drain()
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is
// empty, including tasks posted while draining. It returns the number of
// tasks run. Tests use it instead of Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
		n++
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			jww.ERROR.Printf("event loop task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}
