// Package ping defines the messages exchanged between ping clients and the
// ping handler. It is deliberately free of dependencies so transport-only
// builds (e.g. a browser bridge) do not pull in the handler or mesh code.
package ping

import (
	"encoding/binary"
	"errors"
)

// Errors returned by the binary envelope codec.
var (
	ErrInvalidEnvelope = errors.New("invalid message envelope")
	ErrEnvelopeTooBig  = errors.New("message envelope exceeds size limit")
)

// MaxMessageLen bounds the free-form message text carried in an envelope.
const MaxMessageLen = 4096

// Ping is a request to the ping handler. Sequence is chosen by the caller
// and is opaque to the server; it is echoed back verbatim.
type Ping struct {
	Message  string `json:"message"`
	Sequence uint64 `json:"sequence"`
}

// Pong is the handler's reply to a Ping. TotalPings is the number of pings
// the handler has processed up to and including the one being answered.
// The JSON field is spelled 'total_pings' for compatibility with the
// browser client.
type Pong struct {
	Message    string `json:"message"`
	Sequence   uint64 `json:"sequence"`
	TotalPings uint64 `json:"total_pings"`
}

// EncodePing encodes p into the length-delimited binary envelope used on
// peer-to-peer streams: sequence (8 bytes, big-endian) followed by the
// uvarint-prefixed message bytes.
func EncodePing(p Ping) []byte {
	return encode(p.Message, p.Sequence)
}

// DecodePing decodes an envelope produced by EncodePing.
func DecodePing(b []byte) (Ping, error) {
	msg, seq, err := decode(b)
	if err != nil {
		return Ping{}, err
	}
	return Ping{Message: msg, Sequence: seq}, nil
}

// EncodePong encodes p: sequence and total (8 bytes each, big-endian)
// followed by the uvarint-prefixed message bytes.
func EncodePong(p Pong) []byte {
	buf := make([]byte, 16, 16+len(p.Message)+binary.MaxVarintLen64)
	binary.BigEndian.PutUint64(buf[0:8], p.Sequence)
	binary.BigEndian.PutUint64(buf[8:16], p.TotalPings)
	return appendString(buf, p.Message)
}

// DecodePong decodes an envelope produced by EncodePong.
func DecodePong(b []byte) (Pong, error) {
	if len(b) < 16 {
		return Pong{}, ErrInvalidEnvelope
	}
	msg, err := readString(b[16:])
	if err != nil {
		return Pong{}, err
	}
	return Pong{
		Message:    msg,
		Sequence:   binary.BigEndian.Uint64(b[0:8]),
		TotalPings: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func encode(msg string, seq uint64) []byte {
	buf := make([]byte, 8, 8+len(msg)+binary.MaxVarintLen64)
	binary.BigEndian.PutUint64(buf, seq)
	return appendString(buf, msg)
}

func decode(b []byte) (string, uint64, error) {
	if len(b) < 8 {
		return "", 0, ErrInvalidEnvelope
	}
	msg, err := readString(b[8:])
	if err != nil {
		return "", 0, err
	}
	return msg, binary.BigEndian.Uint64(b[0:8]), nil
}

func appendString(buf []byte, s string) []byte {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(s)))
	buf = append(buf, l[:n]...)
	return append(buf, s...)
}

func readString(b []byte) (string, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > MaxMessageLen {
		if l > MaxMessageLen {
			return "", ErrEnvelopeTooBig
		}
		return "", ErrInvalidEnvelope
	}
	rest := b[n:]
	if uint64(len(rest)) != l {
		return "", ErrInvalidEnvelope
	}
	return string(rest), nil
}
