package bridge

import (
	"container/list"
	"context"
	"sync"

	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/utils/trace"
)

// fifoLock is an exclusive lock granted in arrival order. Unlock hands the
// lock directly to the oldest waiter, so no later arrival can overtake it.
// Once poisoned, the lock refuses every acquisition.
type fifoLock struct {
	mu       sync.Mutex
	held     bool
	waiters  list.List // of chan error
	poisoned error
}

// Lock waits for the lock. It fails with ctx's error if ctx ends first and
// with a fatal lock state error if the lock is poisoned.
func (l *fifoLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if l.poisoned != nil {
		l.mu.Unlock()
		return errors.FatalLockState("lock", l.poisoned)
	}

	if !l.held && l.waiters.Len() == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}

	ch := make(chan error, 1)
	e := l.waiters.PushBack(ch)
	trace.Lock.Printf("lock: waiting behind %d", l.waiters.Len()-1)
	l.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case err := <-ch:
		// handed over while giving up
		l.mu.Unlock()
		if err == nil {
			l.Unlock()
		}
	default:
		l.waiters.Remove(e)
		l.mu.Unlock()
	}

	return ctx.Err()
}

// Unlock releases the lock, handing it to the oldest waiter if any.
func (l *fifoLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		front.Value.(chan error) <- nil
		return
	}

	l.held = false
}

// poison makes every pending and future acquisition fail with cause.
func (l *fifoLock) poison(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned != nil {
		return
	}

	l.poisoned = cause
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(chan error) <- errors.FatalLockState("lock", cause)
	}

	l.waiters.Init()
}

// Poisoned returns the fault that poisoned the lock, or nil.
func (l *fifoLock) Poisoned() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.poisoned
}
