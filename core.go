package bridge

import (
	"context"
	"io"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/go-git/go-billy/v5"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/utils/trace"
)

// core is the state shared by a root handle and every handle derived from
// it. The engine instance is only reachable through exec.
type core struct {
	path      string
	workdir   string
	bare      bool
	namespace string

	d          *dispatch.Dispatcher
	log        *zap.Logger
	httpClient *http.Client

	serial  dispatch.Serial
	lock    fifoLock
	repo    *git.Repository
	dotgit  billy.Filesystem
	commits *lru.Cache // guarded by lock

	mu     sync.Mutex
	refs   int
	closed bool
}

// heldKey marks a context as running inside exec for a given core.
type heldKey struct {
	c *core
}

func newCore(repo *git.Repository, namespace string, o *Options) *core {
	c := &core{
		namespace:  namespace,
		d:          o.Dispatcher,
		log:        o.Logger,
		httpClient: o.HTTPClient,
		repo:       repo,
		commits:    lru.New(o.CommitCacheSize),
		bare:       true,
	}

	if s, ok := repo.Storer.(*filesystem.Storage); ok {
		c.dotgit = s.Filesystem()
		c.path = withSeparator(c.dotgit.Root())
	}

	if wt, err := repo.Worktree(); err == nil {
		c.bare = false
		c.workdir = withSeparator(wt.Filesystem.Root())
	}

	c.log = c.log.With(zap.String("repository", c.path))
	return c
}

// exec runs fn with exclusive access to the engine. Calls are served in
// arrival order. A panic in fn poisons the lock: the repository is left in an
// unknown state and every later call fails with a fatal lock state error.
func (c *core) exec(ctx context.Context, op string, fn func(ctx context.Context, r *git.Repository) error) (err error) {
	if ctx.Value(heldKey{c}) != nil {
		return errors.Enginef(op, errors.CodeDeadlock, "repository already locked by the calling operation")
	}

	if err := c.lock.Lock(ctx); err != nil {
		return err
	}

	trace.Lock.Printf("lock: acquired for %s", op)
	defer func() {
		if r := recover(); r != nil {
			cause := errors.Fault(op, r)
			c.log.Error("engine fault, repository poisoned",
				zap.String("op", op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)

			c.lock.poison(cause)
			err = errors.FatalLockState(op, cause)
		}

		c.lock.Unlock()
		trace.Lock.Printf("lock: released by %s", op)
	}()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.Enginef(op, errors.CodeClosed, "repository is closed")
	}

	return classify(op, fn(context.WithValue(ctx, heldKey{c}, struct{}{}), c.repo))
}

// owner is one ownership token on a core. The engine is closed when the
// last token is released.
type owner struct {
	c    *core
	once sync.Once
	done chan struct{}
}

func (c *core) acquire() (*owner, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.Enginef("acquire", errors.CodeClosed, "repository is closed")
	}

	c.refs++
	return &owner{c: c, done: make(chan struct{})}, nil
}

// release gives the token back. Only the first call has any effect.
func (o *owner) release() error {
	var err error
	o.once.Do(func() {
		close(o.done)

		c := o.c
		c.mu.Lock()
		c.refs--
		last := c.refs == 0
		if last {
			c.closed = true
		}
		c.mu.Unlock()

		if last {
			err = c.closeEngine()
		}
	})

	return err
}

// alive fails with a closed error once the token was released.
func (o *owner) alive(op string) error {
	select {
	case <-o.done:
		return errors.Enginef(op, errors.CodeClosed, "handle is closed")
	default:
		return nil
	}
}

func (c *core) closeEngine() error {
	// a poisoned lock cannot be taken, the storage is closed regardless
	if err := c.lock.Lock(context.Background()); err == nil {
		defer c.lock.Unlock()
	}

	c.log.Debug("closing repository")
	var err error
	if cl, ok := c.repo.Storer.(io.Closer); ok {
		err = cl.Close()
	}

	c.commits.Clear()
	return classify("repository.close", err)
}

// submit runs fn on the dispatcher under the engine lock. Tasks on one core
// wait in line before they reach the pool, so a busy repository never ties up
// workers other repositories need. The task holds its own token, so the
// engine outlives the handle that started it.
func submit[T any](ctx context.Context, o *owner, op string, fn func(ctx context.Context, r *git.Repository) (T, error)) *dispatch.Future[T] {
	return submitCleanup(ctx, o, op, fn, nil)
}

// submitCleanup is submit with a cleanup that runs exactly once when the
// task settles, including when it is rejected before it runs.
func submitCleanup[T any](ctx context.Context, o *owner, op string, fn func(ctx context.Context, r *git.Repository) (T, error), cleanup func()) *dispatch.Future[T] {
	c := o.c
	reject := func(err error) *dispatch.Future[T] {
		if cleanup != nil {
			cleanup()
		}

		return dispatch.Rejected[T](c.d, err)
	}

	if err := o.alive(op); err != nil {
		return reject(err)
	}

	// the task would wait in line behind the one submitting it
	if ctx.Value(heldKey{c}) != nil {
		return reject(errors.Enginef(op, errors.CodeDeadlock, "repository already locked by the calling operation"))
	}

	token, err := c.acquire()
	if err != nil {
		return reject(err)
	}

	finally := func() {
		if cleanup != nil {
			cleanup()
		}

		_ = token.release()
	}

	return dispatch.SubmitSerial(ctx, c.d, &c.serial, op, func(ctx context.Context) (T, error) {
		var v T
		err := c.exec(ctx, op, func(ctx context.Context, r *git.Repository) error {
			var err error
			v, err = fn(ctx, r)
			return err
		})

		return v, err
	}, finally)
}

func withSeparator(p string) string {
	if p == "" || p[len(p)-1] == '/' {
		return p
	}

	return p + "/"
}
