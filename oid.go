package bridge

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pjbgf/sha1cd"

	"github.com/go-git/go-git-bridge/errors"
)

// Oid is the SHA-1 identifier of an object. Oids are plain values: creating,
// printing or comparing them never touches a repository.
type Oid [20]byte

// ZeroOid is the all-zero Oid.
var ZeroOid Oid

// OidFromString parses a 40 character hexadecimal identifier.
func OidFromString(s string) (Oid, error) {
	var o Oid
	if len(s) != hex.EncodedLen(len(o)) {
		return o, errors.Enginef("oid.from_string", errors.CodeInvalidSpec, "invalid object id %q", s)
	}

	if _, err := hex.Decode(o[:], []byte(s)); err != nil {
		return o, errors.Enginef("oid.from_string", errors.CodeInvalidSpec, "invalid object id %q", s)
	}

	return o, nil
}

func oidFromHash(h plumbing.Hash) Oid {
	return Oid(h)
}

func (o Oid) hash() plumbing.Hash {
	return plumbing.Hash(o)
}

// String returns the lowercase hexadecimal form.
func (o Oid) String() string {
	return hex.EncodeToString(o[:])
}

// IsZero reports whether o is the all-zero Oid.
func (o Oid) IsZero() bool {
	return o == ZeroOid
}

// Equal reports whether o and other are the same identifier.
func (o Oid) Equal(other Oid) bool {
	return o == other
}

// Compare orders Oids bytewise. It returns -1, 0 or 1.
func (o Oid) Compare(other Oid) int {
	return bytes.Compare(o[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (o Oid) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Oid) UnmarshalText(text []byte) error {
	parsed, err := OidFromString(string(text))
	if err != nil {
		return err
	}

	*o = parsed
	return nil
}

// ObjectKind is the type of a stored object.
type ObjectKind int

const (
	// ObjectAny matches any kind when looking objects up.
	ObjectAny ObjectKind = iota
	ObjectCommit
	ObjectTree
	ObjectBlob
	ObjectTag
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectAny:
		return "any"
	case ObjectCommit:
		return "commit"
	case ObjectTree:
		return "tree"
	case ObjectBlob:
		return "blob"
	case ObjectTag:
		return "tag"
	}

	return "invalid"
}

func (k ObjectKind) objectType() plumbing.ObjectType {
	switch k {
	case ObjectCommit:
		return plumbing.CommitObject
	case ObjectTree:
		return plumbing.TreeObject
	case ObjectBlob:
		return plumbing.BlobObject
	case ObjectTag:
		return plumbing.TagObject
	}

	return plumbing.AnyObject
}

func objectKind(t plumbing.ObjectType) ObjectKind {
	switch t {
	case plumbing.CommitObject:
		return ObjectCommit
	case plumbing.TreeObject:
		return ObjectTree
	case plumbing.BlobObject:
		return ObjectBlob
	case plumbing.TagObject:
		return ObjectTag
	}

	return ObjectAny
}

// HashObject computes the identifier data would have as an object of the
// given kind, without storing it.
func HashObject(kind ObjectKind, data []byte) (Oid, error) {
	if kind == ObjectAny {
		return ZeroOid, errors.Enginef("oid.hash_object", errors.CodeInvalidObjectType, "cannot hash an object of kind %s", kind)
	}

	h := sha1cd.New()
	h.Write([]byte(kind.String()))
	h.Write([]byte{' '})
	h.Write([]byte(strconv.Itoa(len(data))))
	h.Write([]byte{0})
	h.Write(data)

	var o Oid
	copy(o[:], h.Sum(nil))
	return o, nil
}
