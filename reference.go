package bridge

import "github.com/go-git/go-git/v5/plumbing"

// ReferenceKind tells direct references from symbolic ones.
type ReferenceKind int

const (
	// ReferenceDirect points at an object.
	ReferenceDirect ReferenceKind = iota + 1
	// ReferenceSymbolic points at another reference.
	ReferenceSymbolic
)

func (k ReferenceKind) String() string {
	switch k {
	case ReferenceDirect:
		return "direct"
	case ReferenceSymbolic:
		return "symbolic"
	}

	return "invalid"
}

// Reference is a copy of a reference read from a repository.
type Reference struct {
	name     string
	kind     ReferenceKind
	target   Oid
	symbolic string
}

func newReference(r *plumbing.Reference) Reference {
	ref := Reference{name: r.Name().String()}
	switch r.Type() {
	case plumbing.SymbolicReference:
		ref.kind = ReferenceSymbolic
		ref.symbolic = r.Target().String()
	default:
		ref.kind = ReferenceDirect
		ref.target = oidFromHash(r.Hash())
	}

	return ref
}

// Name returns the full name, e.g. "refs/heads/master".
func (r Reference) Name() string { return r.name }

// Kind returns whether the reference is direct or symbolic.
func (r Reference) Kind() ReferenceKind { return r.kind }

// Target returns the object a direct reference points at. ok is false for
// symbolic references.
func (r Reference) Target() (id Oid, ok bool) {
	return r.target, r.kind == ReferenceDirect
}

// SymbolicTarget returns the reference name a symbolic reference points at.
func (r Reference) SymbolicTarget() string { return r.symbolic }

// IsBranch reports whether the reference is a local branch.
func (r Reference) IsBranch() bool { return plumbing.ReferenceName(r.name).IsBranch() }

// IsRemote reports whether the reference is a remote-tracking branch.
func (r Reference) IsRemote() bool { return plumbing.ReferenceName(r.name).IsRemote() }

// IsTag reports whether the reference is a tag.
func (r Reference) IsTag() bool { return plumbing.ReferenceName(r.name).IsTag() }

// IsNote reports whether the reference is a note.
func (r Reference) IsNote() bool { return plumbing.ReferenceName(r.name).IsNote() }

// Shorthand returns the human readable name, e.g. "master" or
// "origin/master".
func (r Reference) Shorthand() string {
	return plumbing.ReferenceName(r.name).Short()
}
