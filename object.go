package bridge

import (
	"context"
	"io"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

// Object is a borrowed handle on an object of any kind.
type Object struct {
	borrowed[plumbing.EncodedObject]
	id   Oid
	kind ObjectKind
}

func newObject(c *core, o plumbing.EncodedObject) (*Object, error) {
	b, err := newBorrowed(c, o)
	if err != nil {
		return nil, err
	}

	obj := &Object{borrowed: b, id: oidFromHash(o.Hash()), kind: objectKind(o.Type())}
	track(obj, b.owner)
	return obj, nil
}

// ID returns the object identifier.
func (o *Object) ID() Oid { return o.id }

// Kind returns the object kind.
func (o *Object) Kind() ObjectKind { return o.kind }

// Size returns the size of the object content.
func (o *Object) Size(ctx context.Context) *dispatch.Future[int64] {
	return with(ctx, &o.borrowed, "object.size", func(_ context.Context, _ *git.Repository, v plumbing.EncodedObject) (int64, error) {
		return v.Size(), nil
	})
}

// Content returns the raw object content.
func (o *Object) Content(ctx context.Context) *dispatch.Future[[]byte] {
	return with(ctx, &o.borrowed, "object.content", func(_ context.Context, _ *git.Repository, v plumbing.EncodedObject) ([]byte, error) {
		r, err := v.Reader()
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	})
}

// Peel follows tags, and commits to their tree, until an object of the given
// kind is reached. With ObjectAny, a tag is peeled until its target is not a
// tag and a commit is peeled to its tree.
func (o *Object) Peel(ctx context.Context, kind ObjectKind) *dispatch.Future[*Object] {
	const op = "object.peel"
	return with(ctx, &o.borrowed, op, func(_ context.Context, r *git.Repository, v plumbing.EncodedObject) (*Object, error) {
		target := kind
		if kind == ObjectAny {
			switch v.Type() {
			case plumbing.CommitObject:
				target = ObjectTree
			case plumbing.TagObject:
			default:
				return nil, errors.Enginef(op, errors.CodeInvalidSpec, "cannot peel a %s", o.kind)
			}
		}

		obj := v
		for {
			if target == ObjectAny && obj.Type() != plumbing.TagObject {
				break
			}

			if target != ObjectAny && objectKind(obj.Type()) == target {
				break
			}

			next, err := peelOnce(r, obj, target)
			if err != nil {
				return nil, err
			}

			obj = next
		}

		return newObject(o.owner.c, obj)
	})
}

// AsCommit decodes the object as a commit.
func (o *Object) AsCommit(ctx context.Context) *dispatch.Future[Commit] {
	const op = "object.as_commit"
	return with(ctx, &o.borrowed, op, func(_ context.Context, r *git.Repository, v plumbing.EncodedObject) (Commit, error) {
		if v.Type() != plumbing.CommitObject {
			return Commit{}, errors.Enginef(op, errors.CodeInvalidObjectType, "object %s is a %s", o.id, o.kind)
		}

		c, err := object.DecodeCommit(r.Storer, v)
		if err != nil {
			return Commit{}, err
		}

		return newCommit(c), nil
	})
}

// AsTree decodes the object as a tree.
func (o *Object) AsTree(ctx context.Context) *dispatch.Future[*Tree] {
	const op = "object.as_tree"
	return with(ctx, &o.borrowed, op, func(_ context.Context, r *git.Repository, v plumbing.EncodedObject) (*Tree, error) {
		if v.Type() != plumbing.TreeObject {
			return nil, errors.Enginef(op, errors.CodeInvalidObjectType, "object %s is a %s", o.id, o.kind)
		}

		t, err := object.DecodeTree(r.Storer, v)
		if err != nil {
			return nil, err
		}

		return newTree(o.owner.c, t)
	})
}

// peelOnce returns what obj leads to: the target of a tag, or the tree of a
// commit.
func peelOnce(r *git.Repository, obj plumbing.EncodedObject, target ObjectKind) (plumbing.EncodedObject, error) {
	switch obj.Type() {
	case plumbing.TagObject:
		t, err := object.DecodeTag(r.Storer, obj)
		if err != nil {
			return nil, err
		}

		return r.Storer.EncodedObject(plumbing.AnyObject, t.Target)
	case plumbing.CommitObject:
		c, err := object.DecodeCommit(r.Storer, obj)
		if err != nil {
			return nil, err
		}

		return r.Storer.EncodedObject(plumbing.TreeObject, c.TreeHash)
	}

	return nil, errors.Enginef("object.peel", errors.CodeInvalidObjectType,
		"cannot peel a %s to a %s", objectKind(obj.Type()), target)
}
