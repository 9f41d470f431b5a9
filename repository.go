package bridge

import (
	"bytes"
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/internal/callback"
)

// Repository is the root handle of a repository. It owns the engine
// instance; every handle derived from it shares that ownership.
type Repository struct {
	owner *owner
	c     *core
}

func newRepository(r *git.Repository, namespace string, o *Options) (*Repository, error) {
	c := newCore(r, namespace, o)
	own, err := c.acquire()
	if err != nil {
		return nil, err
	}

	repo := &Repository{owner: own, c: c}
	track(repo, own)
	return repo, nil
}

// Init creates a repository at path, or reopens the one already there.
func Init(ctx context.Context, path string, o *InitOptions) *dispatch.Future[*Repository] {
	const op = "repository.init"
	if o == nil {
		o = &InitOptions{}
	}

	opts := *o
	if err := opts.Validate(); err != nil {
		return dispatch.Rejected[*Repository](dispatch.Default(), errors.Typef(op, "%w", err))
	}

	if path == "" {
		return dispatch.Rejected[*Repository](opts.Dispatcher, errors.Typef(op, "%w", ErrMissingPath))
	}

	return dispatch.Submit(ctx, opts.Dispatcher, op, func(ctx context.Context) (*Repository, error) {
		r, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
			InitOptions: git.InitOptions{
				DefaultBranch: plumbing.NewBranchReferenceName(opts.InitialHead),
			},
			Bare: opts.Bare,
		})

		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			r, err = git.PlainOpen(path)
		}

		if err != nil {
			return nil, classify(op, err)
		}

		return newRepository(r, opts.Namespace, &opts.Options)
	})
}

// Open opens an existing repository. path is either the working tree or the
// git directory of a bare repository.
func Open(ctx context.Context, path string, o *OpenOptions) *dispatch.Future[*Repository] {
	const op = "repository.open"
	if o == nil {
		o = &OpenOptions{}
	}

	opts := *o
	if err := opts.Validate(); err != nil {
		return dispatch.Rejected[*Repository](dispatch.Default(), errors.Typef(op, "%w", err))
	}

	if path == "" {
		return dispatch.Rejected[*Repository](opts.Dispatcher, errors.Typef(op, "%w", ErrMissingPath))
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = os.Getenv("GIT_NAMESPACE")
	}

	return dispatch.Submit(ctx, opts.Dispatcher, op, func(ctx context.Context) (*Repository, error) {
		r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
		if err != nil {
			return nil, classify(op, err)
		}

		return newRepository(r, namespace, &opts.Options)
	})
}

// Clone clones url into dest. The callbacks in o.Fetch are captured before
// the clone is queued.
func Clone(ctx context.Context, url, dest string, o *CloneOptions) *dispatch.Future[*Repository] {
	const op = "repository.clone"
	if o == nil {
		o = &CloneOptions{}
	}

	opts := *o
	if err := opts.Validate(); err != nil {
		return dispatch.Rejected[*Repository](dispatch.Default(), errors.Typef(op, "%w", err))
	}

	switch {
	case url == "":
		return dispatch.Rejected[*Repository](opts.Dispatcher, errors.Typef(op, "%w", ErrMissingURL))
	case dest == "":
		return dispatch.Rejected[*Repository](opts.Dispatcher, errors.Typef(op, "%w", ErrMissingPath))
	}

	b, err := callback.New(url, opts.Fetch.Callbacks, opts.Dispatcher.Host(), opts.Logger)
	if err != nil {
		return dispatch.Rejected[*Repository](opts.Dispatcher, err)
	}

	cloneOpts := &git.CloneOptions{
		URL:               url,
		Auth:              b.AuthMethod(),
		RemoteName:        opts.Fetch.Remote,
		Depth:             opts.Depth,
		InsecureSkipTLS:   b.InsecureSkipTLS(),
		RecurseSubmodules: git.NoRecurseSubmodules,
	}

	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	if opts.Recursive {
		cloneOpts.RecurseSubmodules = git.DefaultSubmoduleRecursionDepth
	}

	return dispatch.SubmitFinally(ctx, opts.Dispatcher, op, func(ctx context.Context) (*Repository, error) {
		b.Bind(ctx)

		var r *git.Repository
		err := b.Run(func() error {
			var err error
			r, err = git.PlainCloneContext(ctx, dest, opts.Bare, cloneOpts)
			return err
		})

		if err != nil {
			return nil, classify(op, err)
		}

		return newRepository(r, "", &opts.Options)
	}, func() { _ = b.Release() })
}

// Close releases the root handle. The engine is closed once every borrowed
// handle has been freed as well; the close error is returned by whichever
// release comes last.
func (r *Repository) Close() error {
	return r.owner.release()
}

// Path returns the git directory, with a trailing separator.
func (r *Repository) Path() string { return r.c.path }

// Workdir returns the working tree, with a trailing separator, or "" for
// bare repositories.
func (r *Repository) Workdir() string { return r.c.workdir }

// IsBare reports whether the repository has no working tree.
func (r *Repository) IsBare() bool { return r.c.bare }

// Namespace returns the namespace the repository was opened with, if any.
func (r *Repository) Namespace() string { return r.c.namespace }

// Dispatcher returns the dispatcher running the repository's operations.
func (r *Repository) Dispatcher() *dispatch.Dispatcher { return r.c.d }

// IsEmpty reports whether the repository has no reference besides an unborn
// HEAD.
func (r *Repository) IsEmpty(ctx context.Context) *dispatch.Future[bool] {
	return submit(ctx, r.owner, "repository.is_empty", func(_ context.Context, repo *git.Repository) (bool, error) {
		head, err := repo.Storer.Reference(plumbing.HEAD)
		if err != nil {
			return false, err
		}

		if head.Type() != plumbing.SymbolicReference {
			return false, nil
		}

		iter, err := repo.Storer.IterReferences()
		if err != nil {
			return false, err
		}

		empty := true
		err = iter.ForEach(func(ref *plumbing.Reference) error {
			if ref.Name() != plumbing.HEAD {
				empty = false
				return storer.ErrStop
			}

			return nil
		})

		return empty, err
	})
}

// State returns the operation in progress in the repository.
func (r *Repository) State(ctx context.Context) *dispatch.Future[RepositoryState] {
	return submit(ctx, r.owner, "repository.state", func(context.Context, *git.Repository) (RepositoryState, error) {
		return readState(r.c.dotgit)
	})
}

// Head returns the reference HEAD resolves to.
func (r *Repository) Head(ctx context.Context) *dispatch.Future[Reference] {
	return submit(ctx, r.owner, "repository.head", func(_ context.Context, repo *git.Repository) (Reference, error) {
		head, err := repo.Head()
		if err != nil {
			return Reference{}, err
		}

		return newReference(head), nil
	})
}

// CurrentBranch is an alias of Head.
func (r *Repository) CurrentBranch(ctx context.Context) *dispatch.Future[Reference] {
	return r.Head(ctx)
}

// Reference looks a reference up by its full name, without resolving it.
func (r *Repository) Reference(ctx context.Context, name string) *dispatch.Future[Reference] {
	return submit(ctx, r.owner, "repository.reference", func(_ context.Context, repo *git.Repository) (Reference, error) {
		ref, err := repo.Reference(plumbing.ReferenceName(name), false)
		if err != nil {
			return Reference{}, err
		}

		return newReference(ref), nil
	})
}

// ReferenceNames lists the reference names, HEAD excluded, sorted. A zero
// kind lists every reference.
func (r *Repository) ReferenceNames(ctx context.Context, kind ReferenceKind) *dispatch.Future[[]string] {
	return submit(ctx, r.owner, "repository.reference_names", func(_ context.Context, repo *git.Repository) ([]string, error) {
		iter, err := repo.Storer.IterReferences()
		if err != nil {
			return nil, err
		}

		names := []string{}
		err = iter.ForEach(func(ref *plumbing.Reference) error {
			if ref.Name() == plumbing.HEAD {
				return nil
			}

			if kind != 0 && newReference(ref).Kind() != kind {
				return nil
			}

			names = append(names, ref.Name().String())
			return nil
		})

		sort.Strings(names)
		return names, err
	})
}

func (c *core) findCommit(repo *git.Repository, id Oid) (Commit, error) {
	if cached, ok := c.commits.Get(id); ok {
		return cached.(Commit), nil
	}

	obj, err := repo.CommitObject(id.hash())
	if err != nil {
		return Commit{}, err
	}

	commit := newCommit(obj)
	c.commits.Add(id, commit)
	return commit, nil
}

// FindCommit looks a commit up.
func (r *Repository) FindCommit(ctx context.Context, id Oid) *dispatch.Future[Commit] {
	return submit(ctx, r.owner, "repository.find_commit", func(_ context.Context, repo *git.Repository) (Commit, error) {
		return r.c.findCommit(repo, id)
	})
}

// FindTree looks a tree up.
func (r *Repository) FindTree(ctx context.Context, id Oid) *dispatch.Future[*Tree] {
	return submit(ctx, r.owner, "repository.find_tree", func(_ context.Context, repo *git.Repository) (*Tree, error) {
		t, err := repo.TreeObject(id.hash())
		if err != nil {
			return nil, err
		}

		return newTree(r.c, t)
	})
}

// FindObject looks an object up. With a kind other than ObjectAny, an object
// of another kind is reported as not found.
func (r *Repository) FindObject(ctx context.Context, id Oid, kind ObjectKind) *dispatch.Future[*Object] {
	return submit(ctx, r.owner, "repository.find_object", func(_ context.Context, repo *git.Repository) (*Object, error) {
		obj, err := repo.Storer.EncodedObject(kind.objectType(), id.hash())
		if err != nil {
			return nil, err
		}

		return newObject(r.c, obj)
	})
}

// BranchCommit returns the commit selected by target.
func (r *Repository) BranchCommit(ctx context.Context, target Target) *dispatch.Future[Commit] {
	const op = "repository.branch_commit"
	if _, _, err := target.normalize(op); err != nil {
		return dispatch.Rejected[Commit](r.c.d, err)
	}

	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (Commit, error) {
		id, err := target.resolve(op, repo)
		if err != nil {
			return Commit{}, err
		}

		return r.c.findCommit(repo, id)
	})
}

// Signature returns the default signature, built from user.name and
// user.email and the current time.
func (r *Repository) Signature(ctx context.Context) *dispatch.Future[Signature] {
	const op = "repository.signature"
	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (Signature, error) {
		name, err := readConfig(repo, "user.name")
		if err != nil {
			return Signature{}, err
		}

		email, err := readConfig(repo, "user.email")
		if err != nil {
			return Signature{}, err
		}

		return NewSignature(name, email, time.Now()), nil
	})
}

// CreateBranch creates refs/heads/name pointing at target. An existing branch
// is only overwritten with force, and never when it is checked out.
func (r *Repository) CreateBranch(ctx context.Context, name string, target Target, force bool) *dispatch.Future[Reference] {
	const op = "repository.create_branch"
	if err := validateBranchName(name); err != nil {
		return dispatch.Rejected[Reference](r.c.d, errors.Engine(op, errors.CodeInvalidSpec, err))
	}

	if _, _, err := target.normalize(op); err != nil {
		return dispatch.Rejected[Reference](r.c.d, err)
	}

	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (Reference, error) {
		id, err := target.resolve(op, repo)
		if err != nil {
			return Reference{}, err
		}

		if _, err := r.c.findCommit(repo, id); err != nil {
			return Reference{}, err
		}

		refName := plumbing.NewBranchReferenceName(name)
		old, err := repo.Storer.Reference(refName)
		switch {
		case err == nil && !force:
			return Reference{}, errors.Enginef(op, errors.CodeExists, "branch %q already exists", name)
		case err == nil:
			head, herr := repo.Storer.Reference(plumbing.HEAD)
			if herr == nil && head.Type() == plumbing.SymbolicReference && head.Target() == refName {
				return Reference{}, errors.Enginef(op, errors.CodeConflict, "cannot force update branch %q, it is the current HEAD", name)
			}
		case !errors.Is(err, plumbing.ErrReferenceNotFound):
			return Reference{}, err
		}

		ref := plumbing.NewHashReference(refName, id.hash())
		if old != nil {
			err = repo.Storer.CheckAndSetReference(ref, old)
		} else {
			err = repo.Storer.SetReference(ref)
		}

		if err != nil {
			return Reference{}, err
		}

		return newReference(ref), nil
	})
}

func validateBranchName(name string) error {
	if name == "" || name == plumbing.HEAD.String() || strings.HasPrefix(name, "-") {
		return plumbing.ErrInvalidReferenceName
	}

	return plumbing.NewBranchReferenceName(name).Validate()
}

// CreateCommit writes a commit and, when o.UpdateRef is set, moves that
// reference to it. HEAD, or any symbolic reference, moves the branch it
// points at. An existing reference must currently point at the first parent.
func (r *Repository) CreateCommit(ctx context.Context, o CommitOptions) *dispatch.Future[Oid] {
	const op = "repository.create_commit"
	if err := o.Validate(); err != nil {
		return dispatch.Rejected[Oid](r.c.d, errors.Typef(op, "%w", err))
	}

	if o.Author.IsZero() {
		return dispatch.Rejected[Oid](r.c.d, errors.Typef(op, "author signature is required"))
	}

	parents := append([]Oid(nil), o.Parents...)
	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (Oid, error) {
		if _, err := repo.TreeObject(o.Tree.hash()); err != nil {
			return ZeroOid, err
		}

		commit := &object.Commit{
			Author:    o.Author.engine(),
			Committer: o.Committer.engine(),
			Message:   o.Message,
			TreeHash:  o.Tree.hash(),
		}

		for _, p := range parents {
			if _, err := r.c.findCommit(repo, p); err != nil {
				return ZeroOid, err
			}

			commit.ParentHashes = append(commit.ParentHashes, p.hash())
		}

		if o.SignKey != nil {
			sig, err := signCommit(commit, o.SignKey)
			if err != nil {
				return ZeroOid, err
			}

			commit.PGPSignature = sig
		}

		obj := repo.Storer.NewEncodedObject()
		if err := commit.Encode(obj); err != nil {
			return ZeroOid, err
		}

		h, err := repo.Storer.SetEncodedObject(obj)
		if err != nil {
			return ZeroOid, err
		}

		if o.UpdateRef != "" {
			if err := updateRef(op, repo, plumbing.ReferenceName(o.UpdateRef), h, parents); err != nil {
				return ZeroOid, err
			}
		}

		return oidFromHash(h), nil
	})
}

func signCommit(c *object.Commit, key *openpgp.Entity) (string, error) {
	encoded := &plumbing.MemoryObject{}
	if err := c.Encode(encoded); err != nil {
		return "", err
	}

	er, err := encoded.Reader()
	if err != nil {
		return "", err
	}
	defer er.Close()

	var b bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&b, key, er, nil); err != nil {
		return "", errors.Engine("repository.create_commit", errors.CodeGeneric, err)
	}

	return b.String(), nil
}

// updateRef points name, or the reference it symbolically leads to, at h.
func updateRef(op string, repo *git.Repository, name plumbing.ReferenceName, h plumbing.Hash, parents []Oid) error {
	var current *plumbing.Reference
	for i := 0; ; i++ {
		if i > 10 {
			return errors.Enginef(op, errors.CodeInvalidSpec, "too many levels of symbolic references at %s", name)
		}

		ref, err := repo.Storer.Reference(name)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			break
		}

		if err != nil {
			return err
		}

		if ref.Type() == plumbing.SymbolicReference {
			name = ref.Target()
			continue
		}

		current = ref
		break
	}

	if current != nil && (len(parents) == 0 || oidFromHash(current.Hash()) != parents[0]) {
		return errors.Enginef(op, errors.CodeConflict, "current tip of %s is not the first parent", name)
	}

	ref := plumbing.NewHashReference(name, h)
	if current != nil {
		return repo.Storer.CheckAndSetReference(ref, current)
	}

	return repo.Storer.SetReference(ref)
}

// Reset moves HEAD to target, which must be a commit or a tag. Mixed resets
// the index too and hard resets the working tree as well.
func (r *Repository) Reset(ctx context.Context, target Target, mode ResetType) *dispatch.Future[struct{}] {
	const op = "repository.reset"
	if _, _, err := target.normalize(op); err != nil {
		return dispatch.Rejected[struct{}](r.c.d, err)
	}

	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (struct{}, error) {
		id, err := target.resolve(op, repo)
		if err != nil {
			return struct{}{}, err
		}

		commit, err := peelToCommit(op, repo, id)
		if err != nil {
			return struct{}{}, err
		}

		if mode == ResetSoft {
			head, err := repo.Storer.Reference(plumbing.HEAD)
			if err != nil {
				return struct{}{}, err
			}

			name := plumbing.HEAD
			if head.Type() == plumbing.SymbolicReference {
				name = head.Target()
			}

			return struct{}{}, repo.Storer.SetReference(plumbing.NewHashReference(name, commit))
		}

		wt, err := repo.Worktree()
		if err != nil {
			return struct{}{}, err
		}

		m := git.MixedReset
		if mode == ResetHard {
			m = git.HardReset
		}

		return struct{}{}, wt.Reset(&git.ResetOptions{Commit: commit, Mode: m})
	})
}

func peelToCommit(op string, repo *git.Repository, id Oid) (plumbing.Hash, error) {
	obj, err := repo.Storer.EncodedObject(plumbing.AnyObject, id.hash())
	if err != nil {
		return plumbing.ZeroHash, err
	}

	switch obj.Type() {
	case plumbing.CommitObject:
		return obj.Hash(), nil
	case plumbing.TagObject:
		tag, err := object.DecodeTag(repo.Storer, obj)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		c, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, errors.Engine(op, errors.CodeInvalidObjectType, err)
		}

		return c.Hash, nil
	}

	return plumbing.ZeroHash, errors.Enginef(op, errors.CodeInvalidObjectType, "cannot reset to a %s", objectKind(obj.Type()))
}

// Checkout switches the working tree to a branch, given by full or short
// name.
func (r *Repository) Checkout(ctx context.Context, branch string) *dispatch.Future[struct{}] {
	const op = "repository.checkout"
	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (struct{}, error) {
		wt, err := repo.Worktree()
		if err != nil {
			return struct{}{}, err
		}

		ref, err := resolveReference(repo, branch)
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, wt.Checkout(&git.CheckoutOptions{Branch: ref.Name()})
	})
}

// SetHead points HEAD at a reference. Branches, even unborn ones, are
// attached; any other reference detaches HEAD at its target.
func (r *Repository) SetHead(ctx context.Context, refname string) *dispatch.Future[struct{}] {
	const op = "repository.set_head"
	return submit(ctx, r.owner, op, func(_ context.Context, repo *git.Repository) (struct{}, error) {
		name := plumbing.ReferenceName(refname)
		if name.IsBranch() {
			return struct{}{}, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name))
		}

		ref, err := repo.Reference(name, true)
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, ref.Hash()))
	})
}

// Index returns a handle on the repository index.
func (r *Repository) Index(ctx context.Context) *dispatch.Future[*Index] {
	return submit(ctx, r.owner, "repository.index", func(_ context.Context, repo *git.Repository) (*Index, error) {
		idx, err := repo.Storer.Index()
		if err != nil {
			return nil, err
		}

		return newIndex(r.c, idx)
	})
}

// Config returns a handle on the repository configuration.
func (r *Repository) Config(ctx context.Context) *dispatch.Future[*Config] {
	return submit(ctx, r.owner, "repository.config", func(context.Context, *git.Repository) (*Config, error) {
		return newConfig(r.c)
	})
}

// Revwalk returns a new revision walker.
func (r *Repository) Revwalk(ctx context.Context) *dispatch.Future[*Revwalk] {
	return submit(ctx, r.owner, "repository.revwalk", func(context.Context, *git.Repository) (*Revwalk, error) {
		return newRevwalk(r.c)
	})
}
