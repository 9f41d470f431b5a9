package bridge

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/internal/callback"
)

const anonymousRemoteName = "anonymous"

// anonymousRefSpec is fetched from anonymous remotes when no refspec is given.
var anonymousRefSpec = config.RefSpec("+HEAD:FETCH_HEAD")

// Remote is a borrowed handle on a configured or anonymous remote.
type Remote struct {
	borrowed[*remoteState]
	name string
	url  string
}

type remoteState struct {
	remote *git.Remote

	// mu guards conn, Disconnect takes it without the repository lock
	mu   sync.Mutex
	conn *connection
}

// connection is an open transport session and what it advertised.
type connection struct {
	direction Direction
	bridge    *callback.Bridge
	session   transport.Session
	refs      *packp.AdvRefs
	cancel    context.CancelFunc
}

func (c *connection) close() error {
	c.cancel()

	var err error
	if c.session != nil {
		err = c.session.Close()
	}

	return multierr.Append(err, c.bridge.Release())
}

func newRemote(c *core, r *git.Remote) (*Remote, error) {
	b, err := newBorrowed(c, &remoteState{remote: r})
	if err != nil {
		return nil, err
	}

	cfg := r.Config()
	remote := &Remote{borrowed: b, name: cfg.Name}
	if len(cfg.URLs) > 0 {
		remote.url = cfg.URLs[0]
	}

	track(remote, b.owner)
	return remote, nil
}

// Name returns the remote name, "anonymous" for anonymous remotes.
func (r *Remote) Name() string { return r.name }

// URL returns the fetch URL of the remote.
func (r *Remote) URL() string { return r.url }

// Free closes the connection, if any, and releases the handle.
func (r *Remote) Free() error {
	return multierr.Append(r.Disconnect(), r.borrowed.Free())
}

// Connect opens a session to the remote and reads the references it
// advertises. The callbacks are captured before the operation is queued and
// kept until Disconnect.
func (r *Remote) Connect(ctx context.Context, dir Direction, cbs credentials.Callbacks) *dispatch.Future[struct{}] {
	const op = "remote.connect"
	c := r.owner.c
	b, err := callback.New(r.url, cbs, c.d.Host(), c.log)
	if err != nil {
		return dispatch.Rejected[struct{}](c.d, err)
	}

	// once adopted, b is released with the connection
	var adopted atomic.Bool
	release := func() {
		if !adopted.Load() {
			_ = b.Release()
		}
	}

	return withCleanup(ctx, &r.borrowed, op, func(ctx context.Context, _ *git.Repository, s *remoteState) (struct{}, error) {
		if err := r.Disconnect(); err != nil {
			c.log.Debug("closing previous connection", zap.Error(err))
		}

		cctx, cancel := context.WithCancel(ctx)
		conn := &connection{direction: dir, bridge: b, cancel: cancel}
		adopted.Store(true)

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		b.Bind(ctx)
		err := b.Run(func() error {
			tr, err := r.transport(c, b)
			if err != nil {
				return err
			}

			var sess transport.Session
			if dir == DirectionPush {
				sess, err = tr.NewReceivePackSession(b.Endpoint(), b.AuthMethod())
			} else {
				sess, err = tr.NewUploadPackSession(b.Endpoint(), b.AuthMethod())
			}

			if err != nil {
				return err
			}

			refs, err := sess.AdvertisedReferencesContext(cctx)
			if err != nil {
				_ = sess.Close()
				return err
			}

			s.mu.Lock()
			defer s.mu.Unlock()
			if s.conn != conn {
				_ = sess.Close()
				return errors.Enginef(op, errors.CodeNetwork, "connection closed while connecting")
			}

			conn.session = sess
			conn.refs = refs
			return nil
		})

		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()

			_ = conn.close()
			return struct{}{}, err
		}

		c.log.Debug("remote connected", zap.String("remote", r.name), zap.Stringer("direction", dir))
		return struct{}{}, nil
	}, release)
}

func (r *Remote) transport(c *core, b *callback.Bridge) (transport.Transport, error) {
	switch b.Endpoint().Protocol {
	case "http", "https":
		return githttp.NewClient(b.HTTPClient(c.httpClient)), nil
	}

	return client.NewClient(b.Endpoint())
}

// Connected reports whether Connect succeeded and Disconnect was not called
// since.
func (r *Remote) Connected() bool {
	s := r.view
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil && s.conn.refs != nil
}

// Disconnect closes the connection. It does not wait for the repository
// lock: an operation running on the connection is cancelled.
func (r *Remote) Disconnect() error {
	s := r.view
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	return classify("remote.disconnect", conn.close())
}

// RemoteHead is a reference advertised by a remote.
type RemoteHead struct {
	Name string
	ID   Oid
	// Local is set when the object is present in the local repository.
	Local bool
	// LocalID is the id of the local copy of the object, zero unless Local.
	LocalID Oid
}

// ReferenceList returns the references advertised when connecting, HEAD
// first and the others sorted by name.
func (r *Remote) ReferenceList(ctx context.Context) *dispatch.Future[[]RemoteHead] {
	const op = "remote.reference_list"
	return with(ctx, &r.borrowed, op, func(_ context.Context, repo *git.Repository, s *remoteState) ([]RemoteHead, error) {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil || conn.refs == nil {
			return nil, errors.Enginef(op, errors.CodeNetwork, "remote %s is not connected", r.name)
		}

		adv := conn.refs
		var heads []RemoteHead
		head := func(name string, h plumbing.Hash) RemoteHead {
			rh := RemoteHead{Name: name, ID: oidFromHash(h)}
			if repo.Storer.HasEncodedObject(h) == nil {
				rh.Local = true
				rh.LocalID = rh.ID
			}

			return rh
		}

		if adv.Head != nil {
			heads = append(heads, head(plumbing.HEAD.String(), *adv.Head))
		}

		names := make([]string, 0, len(adv.References)+len(adv.Peeled))
		ids := make(map[string]plumbing.Hash, cap(names))
		for name, h := range adv.References {
			names = append(names, name)
			ids[name] = h
		}

		for name, h := range adv.Peeled {
			names = append(names, name+"^{}")
			ids[name+"^{}"] = h
		}

		sort.Strings(names)
		for _, name := range names {
			if name == plumbing.HEAD.String() {
				continue
			}

			heads = append(heads, head(name, ids[name]))
		}

		return heads, nil
	})
}

// Fetch downloads objects and updates the references matched by refspecs,
// or by the configured refspecs when none are given.
func (r *Remote) Fetch(ctx context.Context, refspecs []string, o FetchOptions) *dispatch.Future[struct{}] {
	const op = "remote.fetch"
	if err := o.Validate(); err != nil {
		return dispatch.Rejected[struct{}](r.owner.c.d, errors.Typef(op, "%w", err))
	}

	specs, err := parseRefSpecs(op, refspecs)
	if err != nil {
		return dispatch.Rejected[struct{}](r.owner.c.d, err)
	}

	c := r.owner.c
	b, err := callback.New(r.url, o.Callbacks, c.d.Host(), c.log)
	if err != nil {
		return dispatch.Rejected[struct{}](c.d, err)
	}

	return withCleanup(ctx, &r.borrowed, op, func(ctx context.Context, _ *git.Repository, s *remoteState) (struct{}, error) {
		if r.name == anonymousRemoteName && len(specs) == 0 {
			specs = []config.RefSpec{anonymousRefSpec}
		}

		return struct{}{}, fetch(ctx, b, s.remote, specs, o)
	}, func() { _ = b.Release() })
}

func fetch(ctx context.Context, b *callback.Bridge, remote *git.Remote, specs []config.RefSpec, o FetchOptions) error {
	b.Bind(ctx)

	err := b.Run(func() error {
		return remote.FetchContext(ctx, &git.FetchOptions{
			RemoteName:      remote.Config().Name,
			RefSpecs:        specs,
			Depth:           o.Depth,
			Auth:            b.AuthMethod(),
			Prune:           o.Prune,
			InsecureSkipTLS: b.InsecureSkipTLS(),
		})
	})

	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}

	return err
}

// Push updates the remote references matched by refspecs.
func (r *Remote) Push(ctx context.Context, refspecs []string, o PushOptions) *dispatch.Future[struct{}] {
	const op = "remote.push"
	c := r.owner.c
	if len(refspecs) == 0 {
		return dispatch.Rejected[struct{}](c.d, errors.Typef(op, "%w", ErrMissingRefSpec))
	}

	specs, err := parseRefSpecs(op, refspecs)
	if err != nil {
		return dispatch.Rejected[struct{}](c.d, err)
	}

	b, err := callback.New(r.url, o.Callbacks, c.d.Host(), c.log)
	if err != nil {
		return dispatch.Rejected[struct{}](c.d, err)
	}

	return withCleanup(ctx, &r.borrowed, op, func(ctx context.Context, _ *git.Repository, s *remoteState) (struct{}, error) {
		b.Bind(ctx)

		err := b.Run(func() error {
			return s.remote.PushContext(ctx, &git.PushOptions{
				RemoteName:      r.name,
				RefSpecs:        specs,
				Auth:            b.AuthMethod(),
				Force:           o.Force,
				InsecureSkipTLS: b.InsecureSkipTLS(),
			})
		})

		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return struct{}{}, nil
		}

		return struct{}{}, err
	}, func() { _ = b.Release() })
}

func parseRefSpecs(op string, refspecs []string) ([]config.RefSpec, error) {
	specs := make([]config.RefSpec, 0, len(refspecs))
	for _, s := range refspecs {
		spec := config.RefSpec(s)
		if err := spec.Validate(); err != nil {
			return nil, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

// FindRemote looks a configured remote up.
func (r *Repository) FindRemote(ctx context.Context, name string) *dispatch.Future[*Remote] {
	return submit(ctx, r.owner, "repository.find_remote", func(_ context.Context, repo *git.Repository) (*Remote, error) {
		remote, err := repo.Remote(name)
		if err != nil {
			return nil, err
		}

		return newRemote(r.c, remote)
	})
}

// RemoteAnonymous returns a remote for url that is not saved in the
// configuration.
func (r *Repository) RemoteAnonymous(ctx context.Context, url string) *dispatch.Future[*Remote] {
	const op = "repository.remote_anonymous"
	if url == "" {
		return dispatch.Rejected[*Remote](r.c.d, errors.Typef(op, "%w", ErrMissingURL))
	}

	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (*Remote, error) {
		remote, err := repo.CreateRemoteAnonymous(&config.RemoteConfig{
			Name: anonymousRemoteName,
			URLs: []string{url},
		})

		if err != nil {
			return nil, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		return newRemote(r.c, remote)
	})
}

// CreateRemote saves a remote with the default fetch refspec.
func (r *Repository) CreateRemote(ctx context.Context, name, url string) *dispatch.Future[*Remote] {
	const op = "repository.create_remote"
	if url == "" {
		return dispatch.Rejected[*Remote](r.c.d, errors.Typef(op, "%w", ErrMissingURL))
	}

	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (*Remote, error) {
		cfg := &config.RemoteConfig{Name: name, URLs: []string{url}}
		if err := cfg.Validate(); err != nil {
			return nil, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		remote, err := repo.CreateRemote(cfg)
		if err != nil {
			return nil, err
		}

		return newRemote(r.c, remote)
	})
}

// RemoteNames lists the configured remotes, sorted.
func (r *Repository) RemoteNames(ctx context.Context) *dispatch.Future[[]string] {
	return submit(ctx, r.owner, "repository.remote_names", func(_ context.Context, repo *git.Repository) ([]string, error) {
		remotes, err := repo.Remotes()
		if err != nil {
			return nil, err
		}

		names := make([]string, 0, len(remotes))
		for _, remote := range remotes {
			names = append(names, remote.Config().Name)
		}

		sort.Strings(names)
		return names, nil
	})
}

// Fetch fetches from o.Remote, a configured remote name or a URL.
func (r *Repository) Fetch(ctx context.Context, o FetchOptions) *dispatch.Future[struct{}] {
	const op = "repository.fetch"
	if err := o.Validate(); err != nil {
		return dispatch.Rejected[struct{}](r.c.d, errors.Typef(op, "%w", err))
	}

	specs, err := parseRefSpecs(op, o.RefSpecs)
	if err != nil {
		return dispatch.Rejected[struct{}](r.c.d, err)
	}

	b := callback.Capture(o.Callbacks, r.c.d.Host(), r.c.log)
	return submitCleanup(ctx, r.owner, op, func(ctx context.Context, repo *git.Repository) (struct{}, error) {
		remote, err := repo.Remote(o.Remote)
		if errors.Is(err, git.ErrRemoteNotFound) {
			remote, err = repo.CreateRemoteAnonymous(&config.RemoteConfig{
				Name: anonymousRemoteName,
				URLs: []string{o.Remote},
			})

			if err == nil && len(specs) == 0 {
				specs = []config.RefSpec{anonymousRefSpec}
			}
		}

		if err != nil {
			return struct{}{}, err
		}

		if err := b.Target(remote.Config().URLs[0]); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, fetch(ctx, b, remote, specs, o)
	}, func() { _ = b.Release() })
}

// Pull fetches o.Branch from o.Remote and fast-forwards the current branch
// to it.
func (r *Repository) Pull(ctx context.Context, o PullOptions) *dispatch.Future[struct{}] {
	const op = "repository.pull"
	if err := o.Validate(); err != nil {
		return dispatch.Rejected[struct{}](r.c.d, errors.Typef(op, "%w", err))
	}

	b := callback.Capture(o.Callbacks, r.c.d.Host(), r.c.log)
	return submitCleanup(ctx, r.owner, op, func(ctx context.Context, repo *git.Repository) (struct{}, error) {
		wt, err := repo.Worktree()
		if err != nil {
			return struct{}{}, err
		}

		remote, err := repo.Remote(o.Remote)
		if err != nil {
			return struct{}{}, err
		}

		if err := b.Target(remote.Config().URLs[0]); err != nil {
			return struct{}{}, err
		}

		b.Bind(ctx)

		pull := &git.PullOptions{
			RemoteName:      o.Remote,
			Auth:            b.AuthMethod(),
			InsecureSkipTLS: b.InsecureSkipTLS(),
		}

		switch head, err := repo.Storer.Reference(plumbing.HEAD); {
		case o.Branch != "":
			pull.ReferenceName = plumbing.NewBranchReferenceName(o.Branch)
		case err == nil && head.Type() == plumbing.SymbolicReference:
			pull.ReferenceName = head.Target()
		}

		err = b.Run(func() error {
			return wt.PullContext(ctx, pull)
		})

		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return struct{}{}, nil
		}

		return struct{}{}, err
	}, func() { _ = b.Release() })
}
