package bridge

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	fixtures "github.com/go-git/go-git-fixtures/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/stretchr/testify/suite"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/internal/callback"
)

type RemoteSuite struct {
	BaseSuite
}

func TestRemoteSuite(t *testing.T) {
	suite.Run(t, new(RemoteSuite))
}

func (s *RemoteSuite) clone() *Repository {
	dest := filepath.Join(s.T().TempDir(), "clone")
	r := must(s.T(), Clone(context.Background(), fixtures.Basic().One().DotGit().Root(), dest, &CloneOptions{
		Options: s.options(),
	}))

	s.T().Cleanup(func() { _ = r.Close() })
	return r
}

func (s *RemoteSuite) TestConnectListDisconnect() {
	ctx := context.Background()
	f := fixtures.Basic().One()
	r := s.clone()

	remote := must(s.T(), r.FindRemote(ctx, "origin"))
	defer remote.Free() // nolint: errcheck

	s.Equal("origin", remote.Name())
	s.NotEmpty(remote.URL())
	s.False(remote.Connected())

	_, err := wait(remote.ReferenceList(ctx))
	s.True(errors.Is(err, errors.ErrNetwork), "got %v", err)

	must(s.T(), remote.Connect(ctx, DirectionFetch, credentials.Callbacks{}))
	s.True(remote.Connected())

	heads := must(s.T(), remote.ReferenceList(ctx))
	s.Require().NotEmpty(heads)
	s.Equal("HEAD", heads[0].Name)
	s.Equal(f.Head, heads[0].ID.String())
	s.True(heads[0].Local)
	s.Equal(heads[0].ID, heads[0].LocalID)

	var names []string
	for _, h := range heads {
		names = append(names, h.Name)
	}
	s.Contains(names, "refs/heads/master")

	s.NoError(remote.Disconnect())
	s.False(remote.Connected())
	s.NoError(remote.Disconnect())
}

func (s *RemoteSuite) TestDisconnectAbortsConnect() {
	ctx := context.Background()

	entered := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	s.T().Cleanup(srv.Close)
	s.T().Cleanup(func() { close(done) })

	r := s.stubRepository(srv.Client())
	remote := must(s.T(), r.RemoteAnonymous(ctx, srv.URL+"/repo.git"))
	defer remote.Free() // nolint: errcheck

	connecting := remote.Connect(ctx, DirectionFetch, credentials.Callbacks{})
	select {
	case <-entered:
	case <-time.After(awaitTimeout):
		s.FailNow("the server never saw the connection")
	}

	s.NoError(remote.Disconnect())

	_, err := wait(connecting)
	s.Error(err)
	s.False(remote.Connected())

	_, err = wait(remote.ReferenceList(ctx))
	s.True(errors.Is(err, errors.ErrNetwork), "got %v", err)
}

func (s *RemoteSuite) TestCancelledOperationsReleaseCallbacks() {
	r := s.clone()
	remote := must(s.T(), r.FindRemote(context.Background(), "origin"))
	defer remote.Free() // nolint: errcheck

	cbs := credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.UsernamePassword("alice", "secret"), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := callback.Live()
	futures := []*dispatch.Future[struct{}]{
		remote.Connect(ctx, DirectionFetch, cbs),
		remote.Fetch(ctx, nil, FetchOptions{Callbacks: cbs}),
		remote.Push(ctx, []string{"refs/heads/master:refs/heads/master"}, PushOptions{Callbacks: cbs}),
		r.Fetch(ctx, FetchOptions{Callbacks: cbs}),
		r.Pull(ctx, PullOptions{Callbacks: cbs}),
	}

	for _, f := range futures {
		_, err := wait(f)
		s.ErrorIs(err, context.Canceled)
	}

	opts := &CloneOptions{Options: s.options()}
	opts.Fetch.Callbacks = cbs
	_, err := wait(Clone(ctx, r.Path(), filepath.Join(s.T().TempDir(), "clone"), opts))
	s.ErrorIs(err, context.Canceled)

	s.Eventually(func() bool { return callback.Live() <= before }, awaitTimeout, time.Millisecond)
	s.False(remote.Connected())
}

func (s *RemoteSuite) TestFindRemoteNotFound() {
	r := s.clone()
	_, err := wait(r.FindRemote(context.Background(), "nope"))
	s.True(errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func (s *RemoteSuite) TestCreateRemote() {
	ctx := context.Background()
	r := s.initRepository(false)

	remote := must(s.T(), r.CreateRemote(ctx, "upstream", "https://example.com/repo.git"))
	s.NoError(remote.Free())

	_, err := wait(r.CreateRemote(ctx, "upstream", "https://example.com/other.git"))
	s.True(errors.Is(err, errors.ErrExists), "got %v", err)

	s.Equal([]string{"upstream"}, must(s.T(), r.RemoteNames(ctx)))

	anon := must(s.T(), r.RemoteAnonymous(ctx, "https://example.com/anon.git"))
	defer anon.Free() // nolint: errcheck
	s.Equal("anonymous", anon.Name())
	s.Equal([]string{"upstream"}, must(s.T(), r.RemoteNames(ctx)))
}

func (s *RemoteSuite) TestPushAndFetch() {
	ctx := context.Background()
	src := s.clone()
	head := must(s.T(), src.Head(ctx))
	id, _ := head.Target()

	bare := s.initRepository(true)
	backup := must(s.T(), src.CreateRemote(ctx, "backup", bare.Path()))
	defer backup.Free() // nolint: errcheck

	must(s.T(), backup.Push(ctx, []string{"refs/heads/master:refs/heads/master"}, PushOptions{}))

	pushed := must(s.T(), bare.Reference(ctx, "refs/heads/master"))
	target, _ := pushed.Target()
	s.Equal(id, target)

	// pushing again is a no-op
	must(s.T(), backup.Push(ctx, []string{"refs/heads/master:refs/heads/master"}, PushOptions{}))

	_, err := wait(backup.Push(ctx, nil, PushOptions{}))
	s.True(errors.Is(err, errors.ErrType), "got %v", err)

	dst := s.initRepository(false)
	must(s.T(), dst.CreateRemote(ctx, "origin", bare.Path()))
	must(s.T(), dst.Fetch(ctx, FetchOptions{}))

	fetched := must(s.T(), dst.Reference(ctx, "refs/remotes/origin/master"))
	target, _ = fetched.Target()
	s.Equal(id, target)

	c := must(s.T(), dst.FindCommit(ctx, id))
	s.Equal(id, c.ID())
}

func (s *RemoteSuite) TestPull() {
	ctx := context.Background()
	upstream := s.initRepository(false)
	s.commitFiles(upstream, "one", map[string]string{"a.txt": "a"})

	down := must(s.T(), Clone(ctx, upstream.Path(), s.T().TempDir(), &CloneOptions{Options: s.options()}))
	defer down.Close() // nolint: errcheck

	two := s.commitFiles(upstream, "two", map[string]string{"b.txt": "b"})
	must(s.T(), down.Pull(ctx, PullOptions{}))

	head := must(s.T(), down.Head(ctx))
	id, _ := head.Target()
	s.Equal(two, id)
	s.FileExists(filepath.Join(down.Workdir(), "b.txt"))

	// nothing new is not an error
	must(s.T(), down.Pull(ctx, PullOptions{}))

	_, err := wait(down.Pull(ctx, PullOptions{Remote: "missing"}))
	s.True(errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func (s *RemoteSuite) TestRemoteFetchWithRefSpecs() {
	ctx := context.Background()
	r := s.initRepository(false)
	f := fixtures.Basic().One()

	remote := must(s.T(), r.RemoteAnonymous(ctx, f.DotGit().Root()))
	defer remote.Free() // nolint: errcheck

	must(s.T(), remote.Fetch(ctx, []string{"+refs/heads/master:refs/heads/imported"}, FetchOptions{}))

	ref := must(s.T(), r.Reference(ctx, "refs/heads/imported"))
	id, _ := ref.Target()
	s.Equal(f.Head, id.String())

	_, err := wait(remote.Fetch(ctx, []string{"not a refspec"}, FetchOptions{}))
	s.True(errors.Is(err, errors.ErrInvalidSpec), "got %v", err)
}

const stubURL = "https://example.invalid/repo.git"

var stubHead = plumbing.NewHash("6ecf0ef2c2dffb796033e5a02219af86ec6584e5")

// stubRemote is an HTTPS smart server that advertises one branch to alice.
func stubRemote(t *testing.T) (*httptest.Server, *http.Client) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="git"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if r.URL.Path != "/repo.git/info/refs" || r.URL.Query().Get("service") != "git-upload-pack" {
			http.NotFound(w, r)
			return
		}

		ar := packp.NewAdvRefs()
		ar.Prefix = [][]byte{[]byte("# service=git-upload-pack"), pktline.Flush}
		ar.Head = &stubHead
		ar.References["refs/heads/master"] = stubHead

		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		_ = ar.Encode(w)
	}))

	srv.StartTLS()
	t.Cleanup(srv.Close)

	// every host resolves to the stub, which presents a certificate for
	// example.com
	tr := srv.Client().Transport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, srv.Listener.Addr().String())
	}
	tr.TLSClientConfig.ServerName = "example.com"

	return srv, &http.Client{Transport: tr}
}

func (s *RemoteSuite) stubRepository(client *http.Client) *Repository {
	opts := s.options()
	opts.HTTPClient = client

	r := must(s.T(), Init(context.Background(), s.T().TempDir(), &InitOptions{Options: opts}))
	s.T().Cleanup(func() { _ = r.Close() })
	return r
}

func (s *RemoteSuite) TestCredentialsRoundTrip() {
	ctx := context.Background()
	_, client := stubRemote(s.T())
	r := s.stubRepository(client)

	var (
		mu       sync.Mutex
		requests []credentials.Request
	)

	cbs := credentials.Callbacks{
		Credentials: func(_ context.Context, req credentials.Request) (credentials.Credentials, error) {
			mu.Lock()
			defer mu.Unlock()

			requests = append(requests, req)
			return credentials.UsernamePassword("alice", "secret"), nil
		},
	}

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	must(s.T(), remote.Connect(ctx, DirectionFetch, cbs))
	heads := must(s.T(), remote.ReferenceList(ctx))

	s.Equal([]RemoteHead{
		{Name: "HEAD", ID: oidFromHash(stubHead)},
		{Name: "refs/heads/master", ID: oidFromHash(stubHead)},
	}, heads)
	s.True(heads[0].LocalID.IsZero())

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(requests, 1)
	s.Equal(stubURL, requests[0].URL)
}

func (s *RemoteSuite) TestCredentialsCallbackError() {
	ctx := context.Background()
	_, client := stubRemote(s.T())
	r := s.stubRepository(client)

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	_, err := wait(remote.Connect(ctx, DirectionFetch, credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.Credentials{}, errors.New("user cancelled")
		},
	}))

	s.True(errors.Is(err, errors.ErrAuth), "got %v", err)
	s.Contains(err.Error(), "user cancelled")
	s.False(remote.Connected())
}

func (s *RemoteSuite) TestCredentialsMalformed() {
	ctx := context.Background()
	_, client := stubRemote(s.T())
	r := s.stubRepository(client)

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	_, err := wait(remote.Connect(ctx, DirectionFetch, credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.Credentials{}, nil
		},
	}))

	s.True(errors.Is(err, errors.ErrType), "got %v", err)
}

func (s *RemoteSuite) TestNoCallbackIsAuthError() {
	ctx := context.Background()
	_, client := stubRemote(s.T())
	r := s.stubRepository(client)

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	_, err := wait(remote.Connect(ctx, DirectionFetch, credentials.Callbacks{}))
	s.True(errors.Is(err, errors.ErrAuth), "got %v", err)
}

func (s *RemoteSuite) TestCertificateCallback() {
	ctx := context.Background()
	_, client := stubRemote(s.T())

	// without the server name override the certificate does not match
	client.Transport.(*http.Transport).TLSClientConfig = &tls.Config{
		RootCAs: client.Transport.(*http.Transport).TLSClientConfig.RootCAs,
	}
	r := s.stubRepository(client)

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	var seen []credentials.Certificate
	var mu sync.Mutex
	check := func(accept bool) credentials.CertificateCallback {
		return func(_ context.Context, cert credentials.Certificate) (bool, error) {
			mu.Lock()
			defer mu.Unlock()

			seen = append(seen, cert)
			return accept, nil
		}
	}

	creds := func(context.Context, credentials.Request) (credentials.Credentials, error) {
		return credentials.UsernamePassword("alice", "secret"), nil
	}

	_, err := wait(remote.Connect(ctx, DirectionFetch, credentials.Callbacks{
		Credentials:      creds,
		CertificateCheck: check(false),
	}))
	s.True(errors.Is(err, errors.ErrCertificate), "got %v", err)

	must(s.T(), remote.Connect(ctx, DirectionFetch, credentials.Callbacks{
		Credentials:      creds,
		CertificateCheck: check(true),
	}))
	s.True(remote.Connected())

	mu.Lock()
	defer mu.Unlock()
	s.Require().NotEmpty(seen)
	s.Equal("example.invalid", seen[0].Host)
	s.Equal(credentials.CertificateX509, seen[0].Kind)
	s.False(seen[0].Valid)
	s.Contains(seen[0].Fingerprint, "SHA256:")
}

func (s *RemoteSuite) TestSkipCertificateCheck() {
	ctx := context.Background()
	_, client := stubRemote(s.T())
	client.Transport.(*http.Transport).TLSClientConfig = &tls.Config{}
	r := s.stubRepository(client)

	remote := must(s.T(), r.RemoteAnonymous(ctx, stubURL))
	defer remote.Free() // nolint: errcheck

	_, err := wait(remote.Connect(ctx, DirectionFetch, credentials.Callbacks{}))
	s.Error(err)

	must(s.T(), remote.Connect(ctx, DirectionFetch, credentials.Callbacks{
		SkipCertificateCheck: true,
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.UsernamePassword("alice", "secret"), nil
		},
	}))
}
