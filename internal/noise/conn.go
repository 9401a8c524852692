package noise

import (
	"net"
	"time"

	"github.com/watercompany/pingmesh/pkg/cipher"
)

// Conn is a net.Conn whose payload is noise encrypted. It is created from
// an already established connection by performing the handshake over it.
type Conn struct {
	net.Conn
	rw *ReadWriter
}

// WrapConn performs the noise handshake over conn and returns the
// encrypted connection. conn is closed when the handshake fails.
func WrapConn(conn net.Conn, ns *Noise, hsTimeout time.Duration) (*Conn, error) {
	rw := NewReadWriter(conn, ns)
	if err := rw.Handshake(hsTimeout); err != nil {
		_ = conn.Close() //nolint:errcheck
		return nil, err
	}
	return &Conn{Conn: conn, rw: rw}, nil
}

// Read implements net.Conn.
func (c *Conn) Read(p []byte) (int, error) { return c.rw.Read(p) }

// Write implements net.Conn.
func (c *Conn) Write(p []byte) (int, error) { return c.rw.Write(p) }

// LocalStatic returns the local static public key.
func (c *Conn) LocalStatic() cipher.PubKey { return c.rw.LocalStatic() }

// RemoteStatic returns the remote static public key, learned during the
// handshake when dialing with an unknown peer.
func (c *Conn) RemoteStatic() cipher.PubKey { return c.rw.RemoteStatic() }
