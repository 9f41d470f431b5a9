package bridge

import (
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/go-git/go-git-bridge/errors"
)

type targetKind int

const (
	targetOid targetKind = iota + 1
	targetString
	targetCommit
	targetReference
	targetName
)

// Target selects a commit, in any of the ways a caller may hold one. It is
// turned into an Oid once, when the operation receiving it starts; only
// reference targets need the repository for that.
type Target struct {
	kind targetKind
	oid  Oid
	str  string
	ref  Reference
}

// TargetOid targets an identifier.
func TargetOid(id Oid) Target {
	return Target{kind: targetOid, oid: id}
}

// TargetString targets a hexadecimal identifier. A malformed string makes
// the operation fail with errors.ErrInvalidSpec.
func TargetString(hex string) Target {
	return Target{kind: targetString, str: hex}
}

// TargetCommit targets a commit.
func TargetCommit(c Commit) Target {
	return Target{kind: targetCommit, oid: c.ID()}
}

// TargetReference targets what ref points at. Symbolic references are
// resolved in the repository.
func TargetReference(ref Reference) Target {
	return Target{kind: targetReference, ref: ref}
}

// TargetName targets the reference with the given name, such as "HEAD",
// "refs/heads/main" or a bare branch name.
func TargetName(name string) Target {
	return Target{kind: targetName, str: name}
}

// normalize returns the Oid when it is known without the repository. ok is
// false when the target must be resolved with resolve.
func (t Target) normalize(op string) (id Oid, ok bool, err error) {
	switch t.kind {
	case targetOid, targetCommit:
		return t.oid, true, nil
	case targetString:
		id, err := OidFromString(t.str)
		if err != nil {
			return id, false, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		return id, true, nil
	case targetReference:
		if id, direct := t.ref.Target(); direct {
			return id, true, nil
		}

		return ZeroOid, false, nil
	case targetName:
		if t.str == "" {
			return ZeroOid, false, errors.Enginef(op, errors.CodeInvalidSpec, "empty reference name")
		}

		return ZeroOid, false, nil
	}

	return ZeroOid, false, errors.Typef(op, "zero Target")
}

// resolve returns the Oid of the target, looking references up in r.
func (t Target) resolve(op string, r *git.Repository) (Oid, error) {
	id, ok, err := t.normalize(op)
	if err != nil || ok {
		return id, err
	}

	name := t.str
	if t.kind == targetReference {
		name = t.ref.SymbolicTarget()
	}

	ref, err := resolveReference(r, name)
	if err != nil {
		return ZeroOid, err
	}

	return oidFromHash(ref.Hash()), nil
}

// resolveReference looks name up, following symbolic references. Names
// outside refs/ that are not found as such are tried as branch names.
func resolveReference(r *git.Repository, name string) (*plumbing.Reference, error) {
	ref, err := r.Reference(plumbing.ReferenceName(name), true)
	if err == nil || !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ref, err
	}

	if strings.HasPrefix(name, "refs/") || name == plumbing.HEAD.String() {
		return nil, err
	}

	return r.Reference(plumbing.NewBranchReferenceName(name), true)
}
