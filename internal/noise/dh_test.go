package noise

import (
	"testing"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ noise.DHFunc = Secp256k1{}

func TestSecp256k1Keypair(t *testing.T) {
	var dh noise.DHFunc = Secp256k1{}

	k, err := dh.GenerateKeypair(nil)
	require.NoError(t, err)
	assert.Len(t, k.Public, 33)
	assert.Len(t, k.Private, 32)
}

func TestSecp256k1DHSymmetry(t *testing.T) {
	dh := Secp256k1{}

	a, err := dh.GenerateKeypair(nil)
	require.NoError(t, err)
	b, err := dh.GenerateKeypair(nil)
	require.NoError(t, err)

	sharedA := dh.DH(a.Private, b.Public)
	sharedB := dh.DH(b.Private, a.Public)
	require.Len(t, sharedA, dh.DHLen())
	assert.Equal(t, sharedA, sharedB)
}

func TestSecp256k1DHInvalidKey(t *testing.T) {
	dh := Secp256k1{}

	k, err := dh.GenerateKeypair(nil)
	require.NoError(t, err)

	// Remote-supplied garbage must not panic; it yields no secret.
	assert.NotPanics(t, func() {
		assert.Nil(t, dh.DH(k.Private, []byte("junk")))
		assert.Nil(t, dh.DH(k.Private, nil))
		assert.Nil(t, dh.DH(nil, k.Public))
	})
}
