package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	fixtures "github.com/go-git/go-git-fixtures/v4"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

const awaitTimeout = 10 * time.Second

// BaseSuite gives every test its own dispatcher.
type BaseSuite struct {
	suite.Suite
	d *dispatch.Dispatcher
}

func (s *BaseSuite) SetupTest() {
	d, err := dispatch.New(&dispatch.Options{Workers: 4})
	s.Require().NoError(err)
	s.d = d
}

func (s *BaseSuite) TearDownTest() {
	s.NoError(s.d.Close(context.Background()))
}

func (s *BaseSuite) TearDownSuite() {
	s.NoError(fixtures.Clean())
}

func (s *BaseSuite) options() Options {
	return Options{Dispatcher: s.d}
}

// wait awaits f with a timeout, so a broken test fails instead of hanging.
func wait[T any](f *dispatch.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()

	return f.Await(ctx)
}

// must awaits f and fails the test on error.
func must[T any](t testing.TB, f *dispatch.Future[T]) T {
	t.Helper()

	v, err := wait(f)
	require.NoError(t, err)
	return v
}

var testSignature = NewSignatureAt("T", "t@example.com", 1700000000, 0)

func (s *BaseSuite) initRepository(bare bool) *Repository {
	r := must(s.T(), Init(context.Background(), s.T().TempDir(), &InitOptions{
		Bare:    bare,
		Options: s.options(),
	}))

	s.T().Cleanup(func() { _ = r.Close() })
	return r
}

// openFixture opens the git directory of a go-git fixture.
func (s *BaseSuite) openFixture(f *fixtures.Fixture) *Repository {
	r := must(s.T(), Open(context.Background(), f.DotGit().Root(), &OpenOptions{Options: s.options()}))
	s.T().Cleanup(func() { _ = r.Close() })
	return r
}

// commitFiles writes files into the working tree, stages them and commits
// on top of HEAD.
func (s *BaseSuite) commitFiles(r *Repository, msg string, files map[string]string) Oid {
	ctx := context.Background()
	idx := must(s.T(), r.Index(ctx))
	defer idx.Free() // nolint: errcheck

	for name, content := range files {
		p := filepath.Join(r.Workdir(), filepath.FromSlash(name))
		s.Require().NoError(os.MkdirAll(filepath.Dir(p), 0o755))
		s.Require().NoError(os.WriteFile(p, []byte(content), 0o644))
		must(s.T(), idx.AddPath(ctx, name))
	}

	must(s.T(), idx.Write(ctx))
	tree := must(s.T(), idx.WriteTree(ctx))

	var parents []Oid
	head, err := wait(r.Head(ctx))
	switch {
	case err == nil:
		id, _ := head.Target()
		parents = append(parents, id)
	case !errors.Is(err, errors.ErrNotFound):
		s.Require().NoError(err)
	}

	return must(s.T(), r.CreateCommit(ctx, CommitOptions{
		UpdateRef: "HEAD",
		Author:    testSignature,
		Message:   msg,
		Tree:      tree,
		Parents:   parents,
	}))
}
