package bridge

import (
	"context"
	"io"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

// Sort is a set of revision walk orderings.
type Sort uint

const (
	// SortNone walks from the newest commit time, parents after the commits
	// reaching them.
	SortNone Sort = 0
	// SortTopological never returns a parent before all of its children.
	SortTopological Sort = 1 << 0
	// SortTime orders by commit time, newest first.
	SortTime Sort = 1 << 1
	// SortReverse reverses the order selected by the other flags.
	SortReverse Sort = 1 << 2
)

// Revwalk is a borrowed handle walking the commit graph. The walk is
// computed on the first call to Next after the set of starting points
// changed.
type Revwalk struct {
	borrowed[*walker]
}

type walker struct {
	pushed []plumbing.Hash
	hidden []plumbing.Hash
	sort   Sort

	prepared bool
	out      []plumbing.Hash
	pos      int
}

func newRevwalk(c *core) (*Revwalk, error) {
	b, err := newBorrowed(c, &walker{})
	if err != nil {
		return nil, err
	}

	w := &Revwalk{borrowed: b}
	track(w, b.owner)
	return w, nil
}

func (w *walker) invalidate() {
	w.prepared = false
	w.out = nil
	w.pos = 0
}

func (w *Revwalk) mark(ctx context.Context, op string, hide bool, resolve func(r *git.Repository) (plumbing.Hash, error)) *dispatch.Future[struct{}] {
	return with(ctx, &w.borrowed, op, func(_ context.Context, r *git.Repository, v *walker) (struct{}, error) {
		h, err := resolve(r)
		if err != nil {
			return struct{}{}, err
		}

		if _, err := r.CommitObject(h); err != nil {
			return struct{}{}, err
		}

		if hide {
			v.hidden = append(v.hidden, h)
		} else {
			v.pushed = append(v.pushed, h)
		}

		v.invalidate()
		return struct{}{}, nil
	})
}

func constant(id Oid) func(*git.Repository) (plumbing.Hash, error) {
	return func(*git.Repository) (plumbing.Hash, error) { return id.hash(), nil }
}

func named(name string) func(*git.Repository) (plumbing.Hash, error) {
	return func(r *git.Repository) (plumbing.Hash, error) {
		ref, err := resolveReference(r, name)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		return ref.Hash(), nil
	}
}

// Push adds a commit to start walking from.
func (w *Revwalk) Push(ctx context.Context, id Oid) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.push", false, constant(id))
}

// PushHead starts walking from HEAD.
func (w *Revwalk) PushHead(ctx context.Context) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.push_head", false, named(plumbing.HEAD.String()))
}

// PushRef starts walking from the commit a reference points at.
func (w *Revwalk) PushRef(ctx context.Context, name string) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.push_ref", false, named(name))
}

// Hide excludes a commit and its ancestors from the walk.
func (w *Revwalk) Hide(ctx context.Context, id Oid) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.hide", true, constant(id))
}

// HideHead excludes HEAD and its ancestors from the walk.
func (w *Revwalk) HideHead(ctx context.Context) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.hide_head", true, named(plumbing.HEAD.String()))
}

// HideRef excludes the commit a reference points at, and its ancestors.
func (w *Revwalk) HideRef(ctx context.Context, name string) *dispatch.Future[struct{}] {
	return w.mark(ctx, "revwalk.hide_ref", true, named(name))
}

// PushRange walks "from..to": what is reachable from to but not from from.
// An empty side stands for HEAD.
func (w *Revwalk) PushRange(ctx context.Context, rng string) *dispatch.Future[struct{}] {
	const op = "revwalk.push_range"
	from, to, ok := strings.Cut(rng, "..")
	if !ok || strings.HasPrefix(to, ".") {
		return dispatch.Rejected[struct{}](w.owner.c.d, errors.Enginef(op, errors.CodeInvalidSpec, "invalid range %q", rng))
	}

	return with(ctx, &w.borrowed, op, func(_ context.Context, r *git.Repository, v *walker) (struct{}, error) {
		hide, err := revision(r, from)
		if err != nil {
			return struct{}{}, err
		}

		push, err := revision(r, to)
		if err != nil {
			return struct{}{}, err
		}

		v.hidden = append(v.hidden, hide)
		v.pushed = append(v.pushed, push)
		v.invalidate()
		return struct{}{}, nil
	})
}

func revision(r *git.Repository, rev string) (plumbing.Hash, error) {
	if rev == "" {
		rev = plumbing.HEAD.String()
	}

	h, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, errors.Engine("revwalk.revision", errors.CodeNotFound, err)
	}

	return *h, nil
}

// Sort sets the ordering, the union of modes, and restarts the walk.
func (w *Revwalk) Sort(ctx context.Context, modes ...Sort) *dispatch.Future[struct{}] {
	var mode Sort
	for _, m := range modes {
		mode |= m
	}

	return with(ctx, &w.borrowed, "revwalk.sort", func(_ context.Context, _ *git.Repository, v *walker) (struct{}, error) {
		v.sort = mode
		v.invalidate()
		return struct{}{}, nil
	})
}

// Reset forgets the pushed and hidden commits. The ordering is kept.
func (w *Revwalk) Reset(ctx context.Context) *dispatch.Future[struct{}] {
	return with(ctx, &w.borrowed, "revwalk.reset", func(_ context.Context, _ *git.Repository, v *walker) (struct{}, error) {
		v.pushed = nil
		v.hidden = nil
		v.invalidate()
		return struct{}{}, nil
	})
}

// Next returns the next commit of the walk, or io.EOF once it is over.
func (w *Revwalk) Next(ctx context.Context) *dispatch.Future[Oid] {
	return with(ctx, &w.borrowed, "revwalk.next", func(_ context.Context, r *git.Repository, v *walker) (Oid, error) {
		if err := v.prepare(r); err != nil {
			return ZeroOid, err
		}

		if v.pos >= len(v.out) {
			return ZeroOid, io.EOF
		}

		v.pos++
		return oidFromHash(v.out[v.pos-1]), nil
	})
}

// Collect returns every remaining commit of the walk.
func (w *Revwalk) Collect(ctx context.Context) *dispatch.Future[[]Oid] {
	return with(ctx, &w.borrowed, "revwalk.collect", func(_ context.Context, r *git.Repository, v *walker) ([]Oid, error) {
		if err := v.prepare(r); err != nil {
			return nil, err
		}

		ids := make([]Oid, 0, len(v.out)-v.pos)
		for ; v.pos < len(v.out); v.pos++ {
			ids = append(ids, oidFromHash(v.out[v.pos]))
		}

		return ids, nil
	})
}

func (w *walker) prepare(r *git.Repository) error {
	if w.prepared {
		return nil
	}

	hidden, err := ancestors(r, w.hidden)
	if err != nil {
		return err
	}

	commits, err := w.collect(r, hidden)
	if err != nil {
		return err
	}

	if w.sort&SortTopological != 0 {
		w.out = topological(commits, w.pushed, w.sort&SortTime != 0)
	} else {
		w.out = chronological(commits, w.pushed)
	}

	if w.sort&SortReverse != 0 {
		for i, j := 0, len(w.out)-1; i < j; i, j = i+1, j-1 {
			w.out[i], w.out[j] = w.out[j], w.out[i]
		}
	}

	w.prepared = true
	w.pos = 0
	return nil
}

// ancestors returns the given commits and everything reachable from them.
// Parents missing from a shallow repository are skipped.
func ancestors(r *git.Repository, from []plumbing.Hash) (map[plumbing.Hash]bool, error) {
	seen := make(map[plumbing.Hash]bool)
	stack := append([]plumbing.Hash(nil), from...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[h] {
			continue
		}

		c, err := r.CommitObject(h)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		seen[h] = true
		stack = append(stack, c.ParentHashes...)
	}

	return seen, nil
}

// collect loads every commit reachable from the pushed ones and not hidden.
func (w *walker) collect(r *git.Repository, hidden map[plumbing.Hash]bool) (map[plumbing.Hash]*object.Commit, error) {
	commits := make(map[plumbing.Hash]*object.Commit)
	stack := append([]plumbing.Hash(nil), w.pushed...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if hidden[h] || commits[h] != nil {
			continue
		}

		c, err := r.CommitObject(h)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		commits[h] = c
		stack = append(stack, c.ParentHashes...)
	}

	return commits, nil
}

// newer orders commits by committer time, newest first, then by id.
func newer(a, b interface{}) int {
	ca, cb := a.(*object.Commit), b.(*object.Commit)
	ta, tb := ca.Committer.When, cb.Committer.When
	switch {
	case ta.After(tb):
		return -1
	case ta.Before(tb):
		return 1
	}

	return oidFromHash(ca.Hash).Compare(oidFromHash(cb.Hash))
}

// chronological walks from the starting points, always emitting the newest
// pending commit.
func chronological(commits map[plumbing.Hash]*object.Commit, start []plumbing.Hash) []plumbing.Hash {
	heap := binaryheap.NewWith(newer)
	queued := make(map[plumbing.Hash]bool, len(commits))
	enqueue := func(h plumbing.Hash) {
		if c, ok := commits[h]; ok && !queued[h] {
			queued[h] = true
			heap.Push(c)
		}
	}

	for _, h := range start {
		enqueue(h)
	}

	out := make([]plumbing.Hash, 0, len(commits))
	for {
		v, ok := heap.Pop()
		if !ok {
			return out
		}

		c := v.(*object.Commit)
		out = append(out, c.Hash)
		for _, p := range c.ParentHashes {
			enqueue(p)
		}
	}
}

// topological emits a commit once all of its children were emitted. Ready
// commits are taken newest first when byTime is set, depth first otherwise.
func topological(commits map[plumbing.Hash]*object.Commit, start []plumbing.Hash, byTime bool) []plumbing.Hash {
	children := make(map[plumbing.Hash]int, len(commits))
	for _, c := range commits {
		for _, p := range c.ParentHashes {
			if _, ok := commits[p]; ok {
				children[p]++
			}
		}
	}

	var (
		heap  = binaryheap.NewWith(newer)
		stack []*object.Commit
	)

	ready := func(c *object.Commit) {
		if byTime {
			heap.Push(c)
		} else {
			stack = append(stack, c)
		}
	}

	next := func() (*object.Commit, bool) {
		if byTime {
			v, ok := heap.Pop()
			if !ok {
				return nil, false
			}

			return v.(*object.Commit), true
		}

		if len(stack) == 0 {
			return nil, false
		}

		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return c, true
	}

	// starting points are visited in push order
	seeded := make(map[plumbing.Hash]bool)
	for i := len(start) - 1; i >= 0; i-- {
		h := start[i]
		if c, ok := commits[h]; ok && children[h] == 0 && !seeded[h] {
			seeded[h] = true
			ready(c)
		}
	}

	out := make([]plumbing.Hash, 0, len(commits))
	for {
		c, ok := next()
		if !ok {
			return out
		}

		out = append(out, c.Hash)
		for i := len(c.ParentHashes) - 1; i >= 0; i-- {
			p, ok := commits[c.ParentHashes[i]]
			if !ok {
				continue
			}

			children[p.Hash]--
			if children[p.Hash] == 0 {
				ready(p)
			}
		}
	}
}
