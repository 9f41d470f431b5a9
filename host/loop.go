// Package host models the host side of the bridge: a single-goroutine event
// loop on which host logic must run, and persistent references that keep
// host values alive while engine work is in flight on other goroutines.
//
// Code that is not bound to any single goroutine can ignore Loop entirely; a
// nil *Loop runs everything inline on the calling goroutine.
package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git-bridge/errors"
)

// ErrLoopClosed is returned when posting to a closed loop.
var ErrLoopClosed = errors.New("host loop is closed")

// Loop serializes host work through a single goroutine, the one calling Run.
// Every turn runs to completion before the next one starts.
//
// Usage:
//
//	loop := host.NewLoop()
//	go loop.Run(ctx)
//	defer loop.Close()
//
//	// From any goroutine:
//	err := loop.Call(ctx, func() error { ... })
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	running atomic.Bool

	closeOnce sync.Once
}

// NewLoop returns a Loop. The queue is unbounded so posting never blocks and
// never drops a turn.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes turns until ctx is cancelled or Close is called. Turns still
// queued at that point are discarded; Call waiters receive ErrLoopClosed.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("host loop is already running")
	}
	defer l.running.Store(false)

	for {
		for {
			fn := l.pop()
			if fn == nil {
				break
			}

			fn()
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			l.drain()
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}

	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn
}

func (l *Loop) drain() {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()
}

// Post queues fn as a later turn of the loop and returns immediately.
func (l *Loop) Post(fn func()) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}

	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return nil
}

// Call runs fn as a turn of the loop and waits for its result. A panic in fn
// is returned as a fault error. Call must not be used from the loop's own
// goroutine.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	err := l.Post(func() {
		result <- protect("host.call", fn)
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// the turn may have completed right before closing
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopClosed
		}
	case err := <-result:
		return err
	}
}

// Close stops the loop. Further Post and Call fail with ErrLoopClosed.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
}

// Closed returns a channel closed when the loop stops accepting work.
func (l *Loop) Closed() <-chan struct{} {
	return l.done
}

func protect(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Fault(op, r)
		}
	}()

	return fn()
}
