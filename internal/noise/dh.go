package noise

import (
	"io"

	"github.com/flynn/noise"
	"github.com/skycoin/skycoin/src/cipher"
)

// Secp256k1 implements noise.DHFunc over the secp256k1 curve, so mesh
// identities double as noise static keys.
type Secp256k1 struct{}

// GenerateKeypair helps to implement noise.DHFunc.
func (Secp256k1) GenerateKeypair(_ io.Reader) (noise.DHKey, error) {
	pk, sk := cipher.GenerateKeyPair()
	return noise.DHKey{
		Private: sk[:],
		Public:  pk[:],
	}, nil
}

// DH helps to implement noise.DHFunc. Invalid peer key material yields no
// shared secret; the handshake then fails authentication instead of
// panicking on remote input.
func (Secp256k1) DH(sk, pk []byte) []byte {
	pubKey, err := cipher.NewPubKey(pk)
	if err != nil {
		return nil
	}
	secKey, err := cipher.NewSecKey(sk)
	if err != nil {
		return nil
	}
	shared, err := cipher.ECDH(pubKey, secKey)
	if err != nil {
		return nil
	}
	return append(shared, byte(0))
}

// DHLen helps to implement noise.DHFunc.
func (Secp256k1) DHLen() int {
	return 33
}

// DHName helps to implement noise.DHFunc.
func (Secp256k1) DHName() string {
	return "Secp256k1"
}
