// Package cipher implements common golang encoding interfaces for
// github.com/skycoin/skycoin/src/cipher key types. A node's identity on the
// mesh is its static secp256k1 public key.
package cipher

import (
	"bytes"

	"github.com/skycoin/skycoin/src/cipher"
)

func init() {
	cipher.DebugLevel2 = false // DebugLevel2 causes ECDH to be really slow
}

// GenerateKeyPair creates key pair
func GenerateKeyPair() (PubKey, SecKey) {
	pk, sk := cipher.GenerateKeyPair()
	return PubKey(pk), SecKey(sk)
}

// GenerateDeterministicKeyPair generates deterministic key pair
func GenerateDeterministicKeyPair(seed []byte) (PubKey, SecKey, error) {
	pk, sk, err := cipher.GenerateDeterministicKeyPair(seed)
	return PubKey(pk), SecKey(sk), err
}

// NewPubKey converts []byte to a PubKey
func NewPubKey(b []byte) (PubKey, error) {
	pk, err := cipher.NewPubKey(b)
	return PubKey(pk), err
}

// PubKeyFromHex parses a hex encoded PubKey.
func PubKeyFromHex(s string) (PubKey, error) {
	pk, err := cipher.PubKeyFromHex(s)
	return PubKey(pk), err
}

// PubKey is a wrapper type for cipher.PubKey that implements common
// golang interfaces.
type PubKey cipher.PubKey

// Hex returns a hex encoded PubKey string
func (pk PubKey) Hex() string {
	return cipher.PubKey(pk).Hex()
}

// Null returns true if PubKey is the null PubKey
func (pk PubKey) Null() bool {
	return cipher.PubKey(pk).Null()
}

// String implements fmt.Stringer for PubKey. Returns Hex representation.
func (pk PubKey) String() string {
	return pk.Hex()
}

// Set implements pflag.Value for PubKey.
func (pk *PubKey) Set(s string) error {
	cPK, err := cipher.PubKeyFromHex(s)
	if err != nil {
		return err
	}
	*pk = PubKey(cPK)
	return nil
}

// Type implements pflag.Value for PubKey.
func (pk PubKey) Type() string {
	return "cipher.PubKey"
}

// MarshalText implements encoding.TextMarshaler.
func (pk PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PubKey) UnmarshalText(data []byte) error {
	if bytes.Count(data, []byte{48}) == len(data) {
		return nil
	}

	dPK, err := cipher.PubKeyFromHex(string(data))
	if err == nil {
		*pk = PubKey(dPK)
	}
	return err
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PubKey) MarshalBinary() ([]byte, error) {
	return pk[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (pk *PubKey) UnmarshalBinary(data []byte) error {
	dPK, err := cipher.NewPubKey(data)
	if err == nil {
		*pk = PubKey(dPK)
	}
	return err
}

// SecKey is a wrapper type for cipher.SecKey that implements common
// golang interfaces.
type SecKey cipher.SecKey

// Hex returns a hex encoded SecKey string
func (sk SecKey) Hex() string {
	return cipher.SecKey(sk).Hex()
}

// Null returns true if SecKey is the null SecKey.
func (sk SecKey) Null() bool {
	return cipher.SecKey(sk).Null()
}

// String implements fmt.Stringer for SecKey. Returns Hex representation.
func (sk SecKey) String() string {
	return sk.Hex()
}

// Set implements pflag.Value for SecKey.
func (sk *SecKey) Set(s string) error {
	cSK, err := cipher.SecKeyFromHex(s)
	if err != nil {
		return err
	}
	*sk = SecKey(cSK)
	return nil
}

// Type implements pflag.Value for SecKey.
func (sk *SecKey) Type() string {
	return "cipher.SecKey"
}

// MarshalText implements encoding.TextMarshaler.
func (sk SecKey) MarshalText() ([]byte, error) {
	return []byte(sk.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (sk *SecKey) UnmarshalText(data []byte) error {
	dSK, err := cipher.SecKeyFromHex(string(data))
	if err == nil {
		*sk = SecKey(dSK)
	}
	return err
}

// PubKey recovers the public key for a secret key
func (sk SecKey) PubKey() (PubKey, error) {
	pk, err := cipher.PubKeyFromSecKey(cipher.SecKey(sk))
	return PubKey(pk), err
}

// RandByte returns rand N bytes
func RandByte(n int) []byte {
	return cipher.RandByte(n)
}
