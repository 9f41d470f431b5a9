package bridge

import (
	"context"
	"runtime"

	git "github.com/go-git/go-git/v5"

	"github.com/go-git/go-git-bridge/dispatch"
)

// borrowed is the part shared by every handle that borrows engine state
// from a repository. It holds an ownership token, so the repository stays
// open until the handle is freed, and it only lets its view be touched
// under the repository lock.
type borrowed[T any] struct {
	owner *owner
	view  T
}

func newBorrowed[T any](c *core, view T) (borrowed[T], error) {
	o, err := c.acquire()
	if err != nil {
		return borrowed[T]{}, err
	}

	return borrowed[T]{owner: o, view: view}, nil
}

// track frees h's token when h becomes unreachable without being freed.
func track[H any](h *H, o *owner) {
	runtime.SetFinalizer(h, func(*H) {
		go o.release() // nolint: errcheck
	})
}

// Free releases the handle. Further use fails with errors.ErrClosed. Free is
// idempotent; the repository is closed once its root handle and every
// borrowed handle have been released.
func (b *borrowed[T]) Free() error {
	return b.owner.release()
}

// with runs fn on the view under the repository lock.
func with[T, R any](ctx context.Context, b *borrowed[T], op string, fn func(ctx context.Context, r *git.Repository, view T) (R, error)) *dispatch.Future[R] {
	return withCleanup(ctx, b, op, fn, nil)
}

// withCleanup is with plus a cleanup run once the task settles by any path.
func withCleanup[T, R any](ctx context.Context, b *borrowed[T], op string, fn func(ctx context.Context, r *git.Repository, view T) (R, error), cleanup func()) *dispatch.Future[R] {
	return submitCleanup(ctx, b.owner, op, func(ctx context.Context, r *git.Repository) (R, error) {
		return fn(ctx, r, b.view)
	}, cleanup)
}
