package cipher

import (
	"log"
	"os"
	"testing"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func TestPubKeyString(t *testing.T) {
	p, _ := GenerateKeyPair()
	require.Equal(t, p.Hex(), p.String())
}

func TestPubKeyTextMarshaller(t *testing.T) {
	p, _ := GenerateKeyPair()
	h, err := p.MarshalText()
	require.NoError(t, err)

	var p2 PubKey
	err = p2.UnmarshalText(h)
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestPubKeyBinaryMarshaller(t *testing.T) {
	p, _ := GenerateKeyPair()
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	var p2 PubKey
	err = p2.UnmarshalBinary(b)
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestPubKeyFromHex(t *testing.T) {
	p, _ := GenerateKeyPair()
	p2, err := PubKeyFromHex(p.Hex())
	require.NoError(t, err)
	require.Equal(t, p, p2)

	_, err = PubKeyFromHex("")
	assert.Error(t, err)
	_, err = PubKeyFromHex("not hex")
	assert.Error(t, err)
	_, err = PubKeyFromHex("ff")
	assert.Error(t, err)
}

func TestPubKeyNull(t *testing.T) {
	var null PubKey
	assert.True(t, null.Null())

	p, _ := GenerateKeyPair()
	assert.False(t, p.Null())
}

func TestSecKeyString(t *testing.T) {
	_, s := GenerateKeyPair()
	require.Equal(t, s.Hex(), s.String())
}

func TestSecKeyTextMarshaller(t *testing.T) {
	_, s := GenerateKeyPair()
	h, err := s.MarshalText()
	require.NoError(t, err)

	var s2 SecKey
	err = s2.UnmarshalText(h)
	require.NoError(t, err)
	require.Equal(t, s, s2)
}

func TestSecKeyPubKey(t *testing.T) {
	p, s := GenerateKeyPair()
	p2, err := s.PubKey()
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestGenerateDeterministicKeyPair(t *testing.T) {
	p1, s1, err := GenerateDeterministicKeyPair([]byte("seed"))
	require.NoError(t, err)
	p2, s2, err := GenerateDeterministicKeyPair([]byte("seed"))
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, s1, s2)

	p3, _, err := GenerateDeterministicKeyPair([]byte("other seed"))
	require.NoError(t, err)
	assert.NotEqual(t, p1, p3)
}
