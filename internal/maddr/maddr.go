// Package maddr parses and formats the self-describing addresses used on
// the mesh: /ip4/<ip>/tcp/<port>, optionally suffixed with /p2p/<peer-key>.
package maddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/watercompany/pingmesh/pkg/cipher"
)

// Parse errors.
var (
	ErrInvalidFormat = errors.New("invalid multiaddress format")
	ErrInvalidIP     = errors.New("invalid multiaddress ip")
	ErrInvalidPort   = errors.New("invalid multiaddress port")
	ErrInvalidPeer   = errors.New("invalid multiaddress peer key")
)

// Addr is a parsed multiaddress. PK is the null key when the address does
// not carry a /p2p/ component.
type Addr struct {
	IP   net.IP
	Port uint16
	PK   cipher.PubKey
}

// Parse parses s into an Addr. Accepted forms:
//
//	/ip4/0.0.0.0/tcp/36341
//	/ip4/127.0.0.1/tcp/36341/p2p/<hex-key>
//	/ip6/::1/tcp/36341
func Parse(s string) (Addr, error) {
	if !strings.HasPrefix(s, "/") {
		return Addr{}, ErrInvalidFormat
	}
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	if len(parts) != 4 && len(parts) != 6 {
		return Addr{}, ErrInvalidFormat
	}

	var a Addr

	switch parts[0] {
	case "ip4", "ip6":
	default:
		return Addr{}, fmt.Errorf("%w: unknown protocol %q", ErrInvalidFormat, parts[0])
	}
	a.IP = net.ParseIP(parts[1])
	if a.IP == nil {
		return Addr{}, ErrInvalidIP
	}
	if parts[0] == "ip4" && a.IP.To4() == nil {
		return Addr{}, ErrInvalidIP
	}

	if parts[2] != "tcp" {
		return Addr{}, fmt.Errorf("%w: unknown transport %q", ErrInvalidFormat, parts[2])
	}
	port, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return Addr{}, ErrInvalidPort
	}
	a.Port = uint16(port)

	if len(parts) == 6 {
		if parts[4] != "p2p" {
			return Addr{}, fmt.Errorf("%w: unknown component %q", ErrInvalidFormat, parts[4])
		}
		pk, err := cipher.PubKeyFromHex(parts[5])
		if err != nil {
			return Addr{}, ErrInvalidPeer
		}
		a.PK = pk
	}

	return a, nil
}

// HasPeer reports whether the address carries a peer identity.
func (a Addr) HasPeer() bool {
	return !a.PK.Null()
}

// WithPeer returns a copy of a carrying the given peer identity.
func (a Addr) WithPeer(pk cipher.PubKey) Addr {
	a.PK = pk
	return a
}

// TCPAddr returns the host:port form accepted by net.Dial and net.Listen.
func (a Addr) TCPAddr() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// FromTCPAddr converts a net.Addr obtained from a TCP listener back into a
// Addr, e.g. to report the actual port of a /tcp/0 listen.
func FromTCPAddr(addr net.Addr) (Addr, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return Addr{}, ErrInvalidFormat
	}
	return Addr{IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}, nil
}

// String returns the multiaddress form, including the /p2p/ component when
// a peer identity is set.
func (a Addr) String() string {
	proto := "ip4"
	if a.IP.To4() == nil {
		proto = "ip6"
	}
	s := fmt.Sprintf("/%s/%s/tcp/%d", proto, a.IP, a.Port)
	if a.HasPeer() {
		s += "/p2p/" + a.PK.Hex()
	}
	return s
}
