package bridge

import (
	"bytes"
	"context"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/suite"

	"github.com/go-git/go-git-bridge/errors"
)

type CommitSuite struct {
	BaseSuite
}

func TestCommitSuite(t *testing.T) {
	suite.Run(t, new(CommitSuite))
}

func (s *CommitSuite) TestSummary() {
	ctx := context.Background()
	r := s.initRepository(false)

	s.commitFiles(r, "first line\n\nbody of the message\n", map[string]string{"a.txt": "a"})
	head := must(s.T(), r.Head(ctx))
	id, _ := head.Target()

	c := must(s.T(), r.FindCommit(ctx, id))
	s.Equal("first line", c.Summary())
	s.Equal("first line\n\nbody of the message\n", c.Message())
	s.False(c.Signed())

	_, err := c.Verify("")
	s.ErrorIs(err, errors.ErrNotFound)
}

func (s *CommitSuite) TestParentsAndTree() {
	ctx := context.Background()
	r := s.initRepository(false)

	first := s.commitFiles(r, "first", map[string]string{"a.txt": "a"})
	second := s.commitFiles(r, "second", map[string]string{"dir/b.txt": "b"})

	c := must(s.T(), r.FindCommit(ctx, second))
	s.Equal([]Oid{first}, c.ParentIDs())

	tree := must(s.T(), c.Tree(ctx, r))
	defer tree.Free() // nolint: errcheck

	s.Equal(c.TreeID(), tree.ID())
	s.Equal(2, must(s.T(), tree.Len(ctx)))

	e := must(s.T(), tree.EntryByPath(ctx, "dir/b.txt"))
	s.Equal("b.txt", e.Name())
	s.Equal("dir/b.txt", e.Path())
	s.Equal(ObjectBlob, e.Kind())

	blob := must(s.T(), e.ToObject(ctx, r))
	defer blob.Free() // nolint: errcheck
	s.Equal([]byte("b"), must(s.T(), blob.Content(ctx)))

	obj := must(s.T(), c.AsObject(ctx, r))
	defer obj.Free() // nolint: errcheck
	s.Equal(ObjectCommit, obj.Kind())
	s.Equal(second, obj.ID())
}

func (s *CommitSuite) TestSignAndVerify() {
	ctx := context.Background()
	r := s.initRepository(false)

	key, err := openpgp.NewEntity("T", "", "t@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	s.Require().NoError(err)

	idx := must(s.T(), r.Index(ctx))
	tree := must(s.T(), idx.WriteTree(ctx))
	s.NoError(idx.Free())

	id := must(s.T(), r.CreateCommit(ctx, CommitOptions{
		UpdateRef: "HEAD",
		Author:    testSignature,
		Message:   "signed\n",
		Tree:      tree,
		SignKey:   key,
	}))

	c := must(s.T(), r.FindCommit(ctx, id))
	s.True(c.Signed())
	s.Contains(c.PGPSignature(), "BEGIN PGP SIGNATURE")

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	s.Require().NoError(err)
	s.Require().NoError(key.Serialize(w))
	s.Require().NoError(w.Close())

	signer, err := c.Verify(pub.String())
	s.Require().NoError(err)
	s.Equal(key.PrimaryKey.KeyId, signer.PrimaryKey.KeyId)

	other, err := openpgp.NewEntity("O", "", "o@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	s.Require().NoError(err)

	var otherPub bytes.Buffer
	w, err = armor.Encode(&otherPub, openpgp.PublicKeyType, nil)
	s.Require().NoError(err)
	s.Require().NoError(other.Serialize(w))
	s.Require().NoError(w.Close())

	_, err = c.Verify(otherPub.String())
	s.ErrorIs(err, errors.ErrEngine)

	_, err = c.Verify("not a key ring")
	s.ErrorIs(err, errors.ErrType)
}
