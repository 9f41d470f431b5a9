package bridge

import (
	"context"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

// Commit is a copy of a commit read from a repository. It holds no link to
// the repository and can be used from any goroutine, even after the
// repository is closed.
type Commit struct {
	id        Oid
	tree      Oid
	parents   []Oid
	author    Signature
	committer Signature
	message   string
	encoding  string
	mergeTag  string
	signature string
}

func newCommit(c *object.Commit) Commit {
	parents := make([]Oid, len(c.ParentHashes))
	for i, h := range c.ParentHashes {
		parents[i] = oidFromHash(h)
	}

	return Commit{
		id:        oidFromHash(c.Hash),
		tree:      oidFromHash(c.TreeHash),
		parents:   parents,
		author:    signatureFrom(c.Author),
		committer: signatureFrom(c.Committer),
		message:   c.Message,
		encoding:  string(c.Encoding),
		mergeTag:  c.MergeTag,
		signature: c.PGPSignature,
	}
}

// ID returns the commit identifier.
func (c Commit) ID() Oid { return c.id }

// TreeID returns the identifier of the commit's tree.
func (c Commit) TreeID() Oid { return c.tree }

// ParentIDs returns the parent identifiers, in order.
func (c Commit) ParentIDs() []Oid {
	return append([]Oid(nil), c.parents...)
}

// ParentCount returns the number of parents.
func (c Commit) ParentCount() int { return len(c.parents) }

// Author returns who wrote the change.
func (c Commit) Author() Signature { return c.author }

// Committer returns who recorded the change.
func (c Commit) Committer() Signature { return c.committer }

// Message returns the full commit message.
func (c Commit) Message() string { return c.message }

// Summary returns the first paragraph of the message, with line breaks
// replaced by spaces.
func (c Commit) Summary() string {
	msg := strings.TrimLeft(c.message, "\n")
	if i := strings.Index(msg, "\n\n"); i >= 0 {
		msg = msg[:i]
	}

	return strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
}

// Signed reports whether the commit carries an OpenPGP signature.
func (c Commit) Signed() bool { return c.signature != "" }

// PGPSignature returns the armored signature, if any.
func (c Commit) PGPSignature() string { return c.signature }

// AsObject looks the commit up as a generic object in repo.
func (c Commit) AsObject(ctx context.Context, repo *Repository) *dispatch.Future[*Object] {
	return repo.FindObject(ctx, c.id, ObjectCommit)
}

// Tree looks the commit's tree up in repo.
func (c Commit) Tree(ctx context.Context, repo *Repository) *dispatch.Future[*Tree] {
	return repo.FindTree(ctx, c.tree)
}

func (c Commit) engine() *object.Commit {
	parents := make([]plumbing.Hash, len(c.parents))
	for i, p := range c.parents {
		parents[i] = p.hash()
	}

	return &object.Commit{
		Hash:         c.id.hash(),
		Author:       c.author.engine(),
		Committer:    c.committer.engine(),
		PGPSignature: c.signature,
		Message:      c.message,
		TreeHash:     c.tree.hash(),
		ParentHashes: parents,
		Encoding:     object.MessageEncoding(c.encoding),
		MergeTag:     c.mergeTag,
	}
}

// Verify checks the commit signature against an armored key ring and
// returns the signing entity. It only uses the copied fields.
func (c Commit) Verify(armoredKeyRing string) (*openpgp.Entity, error) {
	const op = "commit.verify"
	if !c.Signed() {
		return nil, errors.Enginef(op, errors.CodeNotFound, "commit %s is not signed", c.id)
	}

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKeyRing))
	if err != nil {
		return nil, errors.Typef(op, "invalid key ring: %s", err)
	}

	encoded := &plumbing.MemoryObject{}
	if err := c.engine().EncodeWithoutSignature(encoded); err != nil {
		return nil, errors.Engine(op, errors.CodeGeneric, err)
	}

	r, err := encoded.Reader()
	if err != nil {
		return nil, errors.Engine(op, errors.CodeGeneric, err)
	}
	defer r.Close()

	entity, err := openpgp.CheckArmoredDetachedSignature(keyring, r, strings.NewReader(c.signature), nil)
	if err != nil {
		return nil, errors.Engine(op, errors.CodeGeneric, err)
	}

	return entity, nil
}
