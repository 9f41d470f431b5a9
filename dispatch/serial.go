package dispatch

import (
	"container/list"
	"context"
	"sync"

	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/utils/trace"
)

// Serial is a line of tasks that run one at a time, in submission order.
// Only the task at the head of the line is handed to the pool, so a task
// waiting for its turn never holds a worker. The zero value is ready to use.
type Serial struct {
	mu      sync.Mutex
	busy    bool
	pending list.List // of *task
}

// Waiting returns the number of tasks waiting behind the running one.
func (s *Serial) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.Len()
}

// SubmitSerial is SubmitFinally for a task that must wait until every task
// submitted earlier through s has settled. A task whose context ends while
// it waits is rejected with the context's error without running.
func SubmitSerial[T any](ctx context.Context, d *Dispatcher, s *Serial, name string, fn func(ctx context.Context) (T, error), finally func()) *Future[T] {
	f, t := newTask(ctx, d, name, fn, finally)
	t.serial = s

	if !s.admit(d, t) {
		return f
	}

	if err := d.enqueue(t); err != nil {
		t.abort(errors.Scheduling(name, err))
		s.next(d)
	}

	return f
}

// admit reports whether t is at the head of the line. Otherwise t is queued
// until its predecessors settle.
func (s *Serial) admit(d *Dispatcher, t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.busy {
		s.busy = true
		return true
	}

	t.elem = s.pending.PushBack(t)
	trace.Task.Printf("dispatch: %s %s waiting behind %d", t.name, t.id, s.pending.Len()-1)
	t.stop = context.AfterFunc(t.ctx, func() {
		s.mu.Lock()
		if t.elem == nil {
			// already handed to the pool
			s.mu.Unlock()
			return
		}

		s.pending.Remove(t.elem)
		t.elem = nil
		s.mu.Unlock()

		d.cancelled.Add(1)
		trace.Task.Printf("dispatch: %s %s cancelled while waiting", t.name, t.id)
		t.abort(t.ctx.Err())
	})

	return false
}

// next hands the oldest waiting task to the pool, or marks s idle. A task
// the pool refuses is rejected and the one after it is tried.
func (s *Serial) next(d *Dispatcher) {
	for {
		s.mu.Lock()
		front := s.pending.Front()
		if front == nil {
			s.busy = false
			s.mu.Unlock()
			return
		}

		t := s.pending.Remove(front).(*task)
		t.elem = nil
		s.mu.Unlock()

		t.stop()
		err := d.enqueue(t)
		if err == nil {
			return
		}

		t.abort(errors.Scheduling(t.name, err))
	}
}
