package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-git/go-git-bridge/errors"
)

func TestOidFromString(t *testing.T) {
	const hex = "6ecf0ef2c2dffb796033e5a02219af86ec6584e5"

	id, err := OidFromString(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, id.String())
	assert.False(t, id.IsZero())
	assert.True(t, id.Equal(id))
	assert.Zero(t, id.Compare(id))
	assert.Equal(t, -1, ZeroOid.Compare(id))
	assert.Equal(t, 1, id.Compare(ZeroOid))

	upper, err := OidFromString("6ECF0EF2C2DFFB796033E5A02219AF86EC6584E5")
	require.NoError(t, err)
	assert.Equal(t, id, upper)

	for _, s := range []string{"", "6ecf", hex + "00", "zzcf0ef2c2dffb796033e5a02219af86ec6584e5"} {
		_, err := OidFromString(s)
		assert.ErrorIs(t, err, errors.ErrInvalidSpec, s)
	}
}

func TestOidText(t *testing.T) {
	id, err := OidFromString("6ecf0ef2c2dffb796033e5a02219af86ec6584e5")
	require.NoError(t, err)

	b, err := json.Marshal(map[string]Oid{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"6ecf0ef2c2dffb796033e5a02219af86ec6584e5"}`, string(b))

	var out map[string]Oid
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, id, out["id"])

	assert.Error(t, json.Unmarshal([]byte(`{"id":"nope"}`), &out))
}

func TestHashObject(t *testing.T) {
	// git hash-object of an empty blob and of an empty tree
	blob, err := HashObject(ObjectBlob, nil)
	require.NoError(t, err)
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", blob.String())

	tree, err := HashObject(ObjectTree, []byte{})
	require.NoError(t, err)
	assert.Equal(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", tree.String())

	hello, err := HashObject(ObjectBlob, []byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", hello.String())

	_, err = HashObject(ObjectAny, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidObjectType)
}

func TestObjectKindString(t *testing.T) {
	assert.Equal(t, "commit", ObjectCommit.String())
	assert.Equal(t, "tag", ObjectTag.String())
	assert.Equal(t, "invalid", ObjectKind(42).String())
	assert.Equal(t, ObjectTree, objectKind(ObjectTree.objectType()))
}
