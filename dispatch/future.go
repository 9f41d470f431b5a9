package dispatch

import (
	"context"
	"sync"

	"github.com/go-git/go-git-bridge/host"
)

// Future is the eventual result of a task.
type Future[T any] struct {
	loop *host.Loop
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any](loop *host.Loop) *Future[T] {
	return &Future[T]{
		loop: loop,
		done: make(chan struct{}),
	}
}

// Resolved returns a future already settled with v.
func Resolved[T any](d *Dispatcher, v T) *Future[T] {
	f := newFuture[T](d.Host())
	f.settle(v, nil)
	return f
}

// Rejected returns a future already settled with err.
func Rejected[T any](d *Dispatcher, err error) *Future[T] {
	f := newFuture[T](d.Host())
	f.reject(err)
	return f
}

// settle stores the outcome. Only the first call has any effect; it reports
// whether it was that call.
func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value, f.err = v, err
		callbacks := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()

		for _, fn := range callbacks {
			f.deliver(fn, v, err)
		}

		settled = true
	})

	return settled
}

func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) deliver(fn func(T, error), v T, err error) {
	if f.loop != nil {
		// a closed loop means the host is gone and nobody can observe fn
		_ = f.loop.Post(func() { fn(v, err) })
		return
	}

	go fn(v, err)
}

// Done returns a channel closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done. Cancelling ctx does
// not cancel the task.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
	default:
		var zero T
		return zero, ErrPending
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.value, f.err
}

// OnComplete registers fn to be called with the outcome. fn never runs
// synchronously inside OnComplete: it runs in a later turn of the host loop
// when there is one, otherwise on its own goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		v, err := f.value, f.err
		f.mu.Unlock()
		f.deliver(fn, v, err)
		return
	default:
	}

	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
