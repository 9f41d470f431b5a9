package bridge

import (
	"context"
	"path"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/go-git/go-git-bridge/dispatch"
)

// Tree is a borrowed handle on a tree object.
type Tree struct {
	borrowed[*object.Tree]
	id Oid
}

func newTree(c *core, t *object.Tree) (*Tree, error) {
	b, err := newBorrowed(c, t)
	if err != nil {
		return nil, err
	}

	tree := &Tree{borrowed: b, id: oidFromHash(t.Hash)}
	track(tree, b.owner)
	return tree, nil
}

// ID returns the tree identifier.
func (t *Tree) ID() Oid {
	return t.id
}

// Len returns the number of entries at the top level of the tree.
func (t *Tree) Len(ctx context.Context) *dispatch.Future[int] {
	return with(ctx, &t.borrowed, "tree.len", func(_ context.Context, _ *git.Repository, v *object.Tree) (int, error) {
		return len(v.Entries), nil
	})
}

// Entries returns the top level entries, in tree order.
func (t *Tree) Entries(ctx context.Context) *dispatch.Future[[]TreeEntry] {
	return with(ctx, &t.borrowed, "tree.entries", func(_ context.Context, _ *git.Repository, v *object.Tree) ([]TreeEntry, error) {
		entries := make([]TreeEntry, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = newTreeEntry(e, e.Name)
		}

		return entries, nil
	})
}

// EntryByPath returns the entry at a slash separated path below the tree.
func (t *Tree) EntryByPath(ctx context.Context, p string) *dispatch.Future[TreeEntry] {
	return with(ctx, &t.borrowed, "tree.entry_by_path", func(_ context.Context, _ *git.Repository, v *object.Tree) (TreeEntry, error) {
		e, err := v.FindEntry(p)
		if err != nil {
			return TreeEntry{}, err
		}

		return newTreeEntry(*e, path.Clean(p)), nil
	})
}

// TreeEntry is a copy of one entry of a tree.
type TreeEntry struct {
	name string
	path string
	mode filemode.FileMode
	id   Oid
}

func newTreeEntry(e object.TreeEntry, p string) TreeEntry {
	return TreeEntry{name: e.Name, path: p, mode: e.Mode, id: oidFromHash(e.Hash)}
}

// Name returns the entry's file name.
func (e TreeEntry) Name() string { return e.name }

// Path returns the entry's path relative to the tree it was read from.
func (e TreeEntry) Path() string { return e.path }

// Mode returns the git file mode, e.g. 0100644.
func (e TreeEntry) Mode() uint32 { return uint32(e.mode) }

// ID returns the identifier of the object the entry points at.
func (e TreeEntry) ID() Oid { return e.id }

// Kind returns the kind of the object the entry points at. Submodule
// entries point at commits.
func (e TreeEntry) Kind() ObjectKind {
	switch e.mode {
	case filemode.Dir:
		return ObjectTree
	case filemode.Submodule:
		return ObjectCommit
	}

	return ObjectBlob
}

// IsTree reports whether the entry is a directory.
func (e TreeEntry) IsTree() bool { return e.mode == filemode.Dir }

// ToObject looks the entry's object up in repo.
func (e TreeEntry) ToObject(ctx context.Context, repo *Repository) *dispatch.Future[*Object] {
	return repo.FindObject(ctx, e.id, ObjectAny)
}
