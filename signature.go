package bridge

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// NewSignature returns a Signature at the given time.
func NewSignature(name, email string, when time.Time) Signature {
	return Signature{Name: name, Email: email, When: when}
}

// NewSignatureAt returns a Signature from a unix timestamp and an offset from
// UTC in minutes.
func NewSignatureAt(name, email string, seconds int64, offsetMinutes int) Signature {
	zone := time.FixedZone("", offsetMinutes*60)
	return NewSignature(name, email, time.Unix(seconds, 0).In(zone))
}

// IsZero reports whether s is the zero Signature.
func (s Signature) IsZero() bool {
	return s.Name == "" && s.Email == "" && s.When.IsZero()
}

// Seconds returns the unix timestamp of the signature.
func (s Signature) Seconds() int64 {
	return s.When.Unix()
}

// OffsetMinutes returns the offset from UTC in minutes.
func (s Signature) OffsetMinutes() int {
	_, offset := s.When.Zone()
	return offset / 60
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

func (s Signature) engine() object.Signature {
	return object.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func signatureFrom(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}
