package host

import (
	"context"
	"sync"

	"github.com/go-git/go-git-bridge/errors"
)

// ErrReleased is returned when using a Ref after Release.
var ErrReleased = errors.New("host reference released")

// Ref is a persistent, goroutine-safe reference to a host value. It keeps the
// value reachable while engine work holding the Ref runs elsewhere, and
// routes every use of the value to the loop it is bound to.
type Ref[T any] struct {
	loop *Loop

	mu       sync.Mutex
	value    T
	released bool
}

// NewRef binds v to loop. A nil loop means the value may be used from any
// goroutine.
func NewRef[T any](loop *Loop, v T) *Ref[T] {
	return &Ref[T]{loop: loop, value: v}
}

// Loop returns the loop the reference is bound to, possibly nil.
func (r *Ref[T]) Loop() *Loop {
	return r.loop
}

// Do runs fn with the referenced value, on the bound loop when there is one,
// and waits for it. Panics in fn are returned as fault errors.
func (r *Ref[T]) Do(ctx context.Context, fn func(v T) error) error {
	v, ok := r.get()
	if !ok {
		return ErrReleased
	}

	call := func() error { return fn(v) }
	if r.loop == nil {
		return protect("host.ref", call)
	}

	return r.loop.Call(ctx, call)
}

func (r *Ref[T]) get() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.value, !r.released
}

// Release drops the value. It is safe to call more than once.
func (r *Ref[T]) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	r.value = zero
	r.released = true
}
