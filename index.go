package bridge

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	ctxio "github.com/jbenet/go-context/io"
	"golang.org/x/text/unicode/norm"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

// Index is a borrowed handle on the staging area. Changes stay in memory
// until Write.
type Index struct {
	borrowed[*index.Index]
}

func newIndex(c *core, idx *index.Index) (*Index, error) {
	b, err := newBorrowed(c, idx)
	if err != nil {
		return nil, err
	}

	i := &Index{borrowed: b}
	track(i, b.owner)
	return i, nil
}

// IndexEntry is a copy of one index entry.
type IndexEntry struct {
	Path       string
	ID         Oid
	Mode       uint32
	Size       uint32
	Stage      int
	ModifiedAt time.Time
}

// Len returns the number of entries.
func (i *Index) Len(ctx context.Context) *dispatch.Future[int] {
	return with(ctx, &i.borrowed, "index.len", func(_ context.Context, _ *git.Repository, v *index.Index) (int, error) {
		return len(v.Entries), nil
	})
}

// Entries returns the entries sorted by path.
func (i *Index) Entries(ctx context.Context) *dispatch.Future[[]IndexEntry] {
	return with(ctx, &i.borrowed, "index.entries", func(_ context.Context, _ *git.Repository, v *index.Index) ([]IndexEntry, error) {
		entries := make([]IndexEntry, len(v.Entries))
		for n, e := range v.Entries {
			entries[n] = IndexEntry{
				Path:       e.Name,
				ID:         oidFromHash(e.Hash),
				Mode:       uint32(e.Mode),
				Size:       e.Size,
				Stage:      int(e.Stage),
				ModifiedAt: e.ModifiedAt,
			}
		}

		return entries, nil
	})
}

func cleanPath(op, p string) (string, error) {
	p = norm.NFC.String(filepath.ToSlash(p))
	clean := path.Clean(p)
	if p == "" || path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Enginef(op, errors.CodeInvalidSpec, "invalid path %q", p)
	}

	return clean, nil
}

// AddPath writes the file at p, relative to the working tree, as a blob and
// stages it.
func (i *Index) AddPath(ctx context.Context, p string) *dispatch.Future[struct{}] {
	const op = "index.add_path"
	name, err := cleanPath(op, p)
	if err != nil {
		return dispatch.Rejected[struct{}](i.owner.c.d, err)
	}

	return with(ctx, &i.borrowed, op, func(ctx context.Context, r *git.Repository, v *index.Index) (struct{}, error) {
		wt, err := r.Worktree()
		if err != nil {
			return struct{}{}, err
		}

		fi, err := wt.Filesystem.Lstat(name)
		if err != nil {
			return struct{}{}, err
		}

		if fi.IsDir() {
			return struct{}{}, errors.Enginef(op, errors.CodeInvalidSpec, "%s is a directory", name)
		}

		mode, err := filemode.NewFromOSFileMode(fi.Mode())
		if err != nil {
			return struct{}{}, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		var content io.Reader
		size := fi.Size()
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := wt.Filesystem.Readlink(name)
			if err != nil {
				return struct{}{}, err
			}

			content = strings.NewReader(target)
			size = int64(len(target))
		} else {
			f, err := wt.Filesystem.Open(name)
			if err != nil {
				return struct{}{}, err
			}
			defer f.Close()

			content = f
		}

		obj := r.Storer.NewEncodedObject()
		obj.SetType(plumbing.BlobObject)
		obj.SetSize(size)

		w, err := obj.Writer()
		if err != nil {
			return struct{}{}, err
		}

		if _, err := io.Copy(w, ctxio.NewReader(ctx, content)); err != nil {
			_ = w.Close()
			return struct{}{}, err
		}

		if err := w.Close(); err != nil {
			return struct{}{}, err
		}

		h, err := r.Storer.SetEncodedObject(obj)
		if err != nil {
			return struct{}{}, err
		}

		e, err := v.Entry(name)
		if errors.Is(err, index.ErrEntryNotFound) {
			e = v.Add(name)
		} else if err != nil {
			return struct{}{}, err
		}

		e.Hash = h
		e.Mode = mode
		e.Size = uint32(size)
		e.ModifiedAt = fi.ModTime()
		e.Stage = 0

		sort.Slice(v.Entries, func(a, b int) bool {
			return v.Entries[a].Name < v.Entries[b].Name
		})

		return struct{}{}, nil
	})
}

// RemovePath unstages p.
func (i *Index) RemovePath(ctx context.Context, p string) *dispatch.Future[struct{}] {
	const op = "index.remove_path"
	name, err := cleanPath(op, p)
	if err != nil {
		return dispatch.Rejected[struct{}](i.owner.c.d, err)
	}

	return with(ctx, &i.borrowed, op, func(_ context.Context, _ *git.Repository, v *index.Index) (struct{}, error) {
		if _, err := v.Remove(name); err != nil {
			return struct{}{}, errors.Engine(op, errors.CodeNotFound, err)
		}

		return struct{}{}, nil
	})
}

// Read discards in-memory changes and reloads the index from disk.
func (i *Index) Read(ctx context.Context) *dispatch.Future[struct{}] {
	return with(ctx, &i.borrowed, "index.read", func(_ context.Context, r *git.Repository, v *index.Index) (struct{}, error) {
		fresh, err := r.Storer.Index()
		if err != nil {
			return struct{}{}, err
		}

		*v = *fresh
		return struct{}{}, nil
	})
}

// Write saves the index to disk.
func (i *Index) Write(ctx context.Context) *dispatch.Future[struct{}] {
	return with(ctx, &i.borrowed, "index.write", func(_ context.Context, r *git.Repository, v *index.Index) (struct{}, error) {
		return struct{}{}, r.Storer.SetIndex(v)
	})
}

// WriteTree writes the trees described by the index and returns the id of
// the root tree. Unresolved conflicts make it fail.
func (i *Index) WriteTree(ctx context.Context) *dispatch.Future[Oid] {
	const op = "index.write_tree"
	return with(ctx, &i.borrowed, op, func(_ context.Context, r *git.Repository, v *index.Index) (Oid, error) {
		root := &dirNode{}
		for _, e := range v.Entries {
			if e.Stage != 0 {
				return ZeroOid, errors.Enginef(op, errors.CodeConflict, "%s has unresolved conflicts", e.Name)
			}

			root.add(e)
		}

		h, err := root.write(r)
		if err != nil {
			return ZeroOid, err
		}

		return oidFromHash(h), nil
	})
}

type dirNode struct {
	dirs  map[string]*dirNode
	files []object.TreeEntry
}

func (d *dirNode) add(e *index.Entry) {
	parts := strings.Split(e.Name, "/")
	node := d
	for _, dir := range parts[:len(parts)-1] {
		if node.dirs == nil {
			node.dirs = make(map[string]*dirNode)
		}

		child, ok := node.dirs[dir]
		if !ok {
			child = &dirNode{}
			node.dirs[dir] = child
		}

		node = child
	}

	node.files = append(node.files, object.TreeEntry{
		Name: parts[len(parts)-1],
		Mode: e.Mode,
		Hash: e.Hash,
	})
}

func (d *dirNode) write(r *git.Repository) (plumbing.Hash, error) {
	entries := append([]object.TreeEntry(nil), d.files...)
	for name, child := range d.dirs {
		h, err := child.write(r)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}

	// directories sort as if their name ended with a slash
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}

		return e.Name
	}

	sort.Slice(entries, func(a, b int) bool {
		return key(entries[a]) < key(entries[b])
	})

	t := &object.Tree{Entries: entries}
	obj := r.Storer.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}

	return r.Storer.SetEncodedObject(obj)
}
