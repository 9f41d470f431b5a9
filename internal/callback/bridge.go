// Package callback turns host callbacks into engine authentication hooks.
//
// The engine asks for credentials from inside a network operation, on the
// worker goroutine that holds the repository lock. A Bridge answers those
// requests by running host logic (on the host loop when there is one),
// blocking the operation until the host decides, and caching the decision
// for the rest of the operation. Failures inside host logic never unwind
// through the engine: they are recorded and surfaced as the operation's
// error once it returns.
package callback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/host"
	"github.com/go-git/go-git-bridge/utils/trace"
)

const op = "callback"

// live counts bridges captured and not yet released.
var live atomic.Int64

// Live returns the number of bridges holding host callbacks.
func Live() int64 {
	return live.Load()
}

// Bridge holds the host callbacks of one network operation.
type Bridge struct {
	url      string
	endpoint *transport.Endpoint
	log      *zap.Logger

	credentials *host.Ref[credentials.Callback]
	certificate *host.Ref[credentials.CertificateCallback]
	skip        bool

	released atomic.Bool

	// resolving serializes credential requests so the host sees at most one
	resolving sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	armed    bool
	resolved bool
	decision credentials.Credentials
	calls    int
	failure  error
	closers  []io.Closer
}

// New captures cbs for an operation against url. The callbacks are held by
// persistent references bound to loop until Release is called.
func New(url string, cbs credentials.Callbacks, loop *host.Loop, log *zap.Logger) (*Bridge, error) {
	b := Capture(cbs, loop, log)
	if err := b.Target(url); err != nil {
		_ = b.Release()
		return nil, err
	}

	return b, nil
}

// Capture is New for an operation whose remote URL is only known once it
// runs. Target must be called before the bridge is used.
func Capture(cbs credentials.Callbacks, loop *host.Loop, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}

	b := &Bridge{
		log:  log.With(zap.String("component", "callback")),
		skip: cbs.SkipCertificateCheck,
		ctx:  context.Background(),
	}

	if cbs.Credentials != nil {
		b.credentials = host.NewRef(loop, cbs.Credentials)
	}

	if cbs.CertificateCheck != nil {
		b.certificate = host.NewRef(loop, cbs.CertificateCheck)
	}

	live.Add(1)
	return b
}

// Target points the bridge at url.
func (b *Bridge) Target(url string) error {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return errors.Engine(op, errors.CodeInvalidSpec, err)
	}

	b.url = url
	b.endpoint = ep
	b.log = b.log.With(zap.String("url", url))
	return nil
}

// Bind sets the context passed to host callbacks. It should be the context
// of the running operation, so that host logic trying to re-enter the same
// repository with it fails fast instead of deadlocking.
func (b *Bridge) Bind(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx = ctx
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ctx
}

// Endpoint returns the parsed remote endpoint.
func (b *Bridge) Endpoint() *transport.Endpoint {
	return b.endpoint
}

// URL returns the remote URL as given.
func (b *Bridge) URL() string {
	return b.url
}

// InsecureSkipTLS reports whether certificate checks were disabled.
func (b *Bridge) InsecureSkipTLS() bool {
	return b.skip
}

// AuthMethod returns the engine auth method matching the endpoint protocol,
// or nil for protocols without authentication.
func (b *Bridge) AuthMethod() transport.AuthMethod {
	switch b.endpoint.Protocol {
	case "http", "https":
		return b.HTTPAuth()
	case "ssh":
		return b.SSHAuth()
	}

	return nil
}

// Calls returns how many times the credentials callback ran.
func (b *Bridge) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

// Err returns the first failure recorded while running host logic.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failure
}

func (b *Bridge) record(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure == nil {
		b.failure = err
		b.log.Debug("callback failure recorded", zap.Error(err))
	}

	return b.failure
}

// Run executes fn, the engine side of the operation. When a plain HTTP
// attempt is refused for lack of credentials and the host registered a
// credentials callback, the callback is armed and fn runs once more. A
// failure recorded by host logic takes precedence over fn's own error.
func (b *Bridge) Run(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	if failure := b.Err(); failure != nil {
		return failure
	}

	if !b.arm(err) {
		return err
	}

	trace.Callback.Printf("callback: %s asked for credentials, retrying", b.url)
	err = fn()
	if failure := b.Err(); failure != nil {
		return failure
	}

	return err
}

func (b *Bridge) arm(err error) bool {
	if !errors.Is(err, transport.ErrAuthenticationRequired) &&
		!errors.Is(err, transport.ErrAuthorizationFailed) {
		return false
	}

	if b.endpoint.Protocol != "http" && b.endpoint.Protocol != "https" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.credentials == nil || b.armed {
		return false
	}

	b.armed = true
	return true
}

// resolve returns the credentials for the operation, running the host
// callback the first time. Without a callback it returns Default.
func (b *Bridge) resolve(username string) (credentials.Credentials, error) {
	b.resolving.Lock()
	defer b.resolving.Unlock()

	b.mu.Lock()
	if b.failure != nil {
		defer b.mu.Unlock()
		return credentials.Credentials{}, b.failure
	}

	if b.resolved {
		defer b.mu.Unlock()
		return b.decision, nil
	}

	cb := b.credentials
	ctx := b.ctx
	b.mu.Unlock()

	if cb == nil {
		return credentials.Default(), nil
	}

	req := credentials.Request{URL: b.url, Username: username}
	trace.Callback.Printf("callback: credentials requested for %s", b.url)

	var got credentials.Credentials
	err := cb.Do(ctx, func(fn credentials.Callback) error {
		c, err := fn(ctx, req)
		got = c
		return err
	})

	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	switch {
	case err != nil:
		return got, b.record(errors.Engine(op, errors.CodeAuth, err))
	case got.Validate() != nil:
		return got, b.record(got.Validate())
	}

	b.mu.Lock()
	b.resolved = true
	b.decision = got
	b.mu.Unlock()

	b.log.Debug("credentials resolved", zap.Object("credentials", got))
	return got, nil
}

func (b *Bridge) addCloser(c io.Closer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closers = append(b.closers, c)
}

// Release drops the host references and closes resources opened for the
// operation, such as SSH agent connections.
func (b *Bridge) Release() error {
	if !b.released.Swap(true) {
		live.Add(-1)
	}

	if b.credentials != nil {
		b.credentials.Release()
	}

	if b.certificate != nil {
		b.certificate.Release()
	}

	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}

	return err
}

func (b *Bridge) String() string {
	return fmt.Sprintf("callback bridge for %s", b.url)
}
