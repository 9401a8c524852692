package noise

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watercompany/pingmesh/pkg/cipher"
)

func xkPair(t *testing.T) (*Noise, *Noise) {
	t.Helper()
	pkI, skI := cipher.GenerateKeyPair()
	pkR, skR := cipher.GenerateKeyPair()

	confI := Config{
		LocalPK:   pkI,
		LocalSK:   skI,
		RemotePK:  pkR,
		Initiator: true,
	}

	confR := Config{
		LocalPK:   pkR,
		LocalSK:   skR,
		Initiator: false,
	}

	nI, err := XKAndSecp256k1(confI)
	require.NoError(t, err)

	nR, err := XKAndSecp256k1(confR)
	require.NoError(t, err)

	return nI, nR
}

func TestReadWriterXKPattern(t *testing.T) {
	nI, nR := xkPair(t)

	connI, connR := net.Pipe()
	rwI := NewReadWriter(connI, nI)
	rwR := NewReadWriter(connR, nR)

	errCh := make(chan error)
	go func() { errCh <- rwR.Handshake(time.Second) }()
	require.NoError(t, rwI.Handshake(time.Second))
	require.NoError(t, <-errCh)

	// The responder learns the initiator's static key during the handshake.
	assert.Equal(t, rwI.LocalStatic(), rwR.RemoteStatic())
	assert.Equal(t, rwR.LocalStatic(), rwI.RemoteStatic())

	go func() {
		_, err := rwI.Write([]byte("foo"))
		errCh <- err
	}()

	buf := make([]byte, 3)
	n, err := rwR.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("foo"), buf)

	go func() {
		_, err := rwI.Read(buf)
		errCh <- err
	}()

	n, err = rwR.Write([]byte("bar"))
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("bar"), buf)
}

func TestReadWriterBuffersExcess(t *testing.T) {
	nI, nR := xkPair(t)

	connI, connR := net.Pipe()
	rwI := NewReadWriter(connI, nI)
	rwR := NewReadWriter(connR, nR)

	errCh := make(chan error)
	go func() { errCh <- rwR.Handshake(time.Second) }()
	require.NoError(t, rwI.Handshake(time.Second))
	require.NoError(t, <-errCh)

	go func() {
		_, err := rwI.Write([]byte("hello"))
		errCh <- err
	}()

	buf := make([]byte, 2)
	n, err := rwR.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("he"), buf)

	rest := make([]byte, 3)
	n, err = rwR.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("llo"), rest)
}

func TestHandshakeTimeout(t *testing.T) {
	nI, _ := xkPair(t)

	connI, _ := net.Pipe()
	rwI := NewReadWriter(connI, nI)

	err := rwI.Handshake(50 * time.Millisecond)
	assert.Equal(t, ErrHandshakeTimeout, err)
}

func TestHandshakeWrongResponderKey(t *testing.T) {
	pkI, skI := cipher.GenerateKeyPair()
	pkExpected, _ := cipher.GenerateKeyPair()
	pkR, skR := cipher.GenerateKeyPair()

	nI, err := XKAndSecp256k1(Config{
		LocalPK:   pkI,
		LocalSK:   skI,
		RemotePK:  pkExpected,
		Initiator: true,
	})
	require.NoError(t, err)

	nR, err := XKAndSecp256k1(Config{
		LocalPK:   pkR,
		LocalSK:   skR,
		Initiator: false,
	})
	require.NoError(t, err)

	connI, connR := net.Pipe()
	rwI := NewReadWriter(connI, nI)
	rwR := NewReadWriter(connR, nR)

	errCh := make(chan error)
	go func() { errCh <- rwR.Handshake(time.Second) }()

	// The initiator encrypts against pkExpected; the responder holding a
	// different static key cannot decrypt the first message.
	assert.Error(t, rwI.Handshake(time.Second))
	assert.Error(t, <-errCh)
}

func TestWrapConn(t *testing.T) {
	nI, nR := xkPair(t)

	connI, connR := net.Pipe()

	type result struct {
		conn *Conn
		err  error
	}
	resCh := make(chan result)
	go func() {
		c, err := WrapConn(connR, nR, time.Second)
		resCh <- result{c, err}
	}()

	cI, err := WrapConn(connI, nI, time.Second)
	require.NoError(t, err)
	res := <-resCh
	require.NoError(t, res.err)
	cR := res.conn

	assert.Equal(t, cI.LocalStatic(), cR.RemoteStatic())

	go func() {
		_, err := cI.Write([]byte("ping"))
		resCh <- result{err: err}
	}()

	buf := make([]byte, 4)
	n, err := cR.Read(buf)
	require.NoError(t, err)
	require.NoError(t, (<-resCh).err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("ping"), buf)
}
