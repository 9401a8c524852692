package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Stream types. The opener of a yamux stream writes a single type byte so
// the acceptor knows how to serve it.
const (
	streamGossip = byte(0x1)
	streamCall   = byte(0x2)
)

// FrameKind tags frames on call streams.
type FrameKind byte

// Call stream frame kinds.
const (
	KindCall  = FrameKind(0x1)
	KindReply = FrameKind(0x2)
	KindError = FrameKind(0x3)
)

func (k FrameKind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindReply:
		return "REPLY"
	case KindError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN:%d", byte(k))
	}
}

// ErrInvalidCallFrame is returned when an inbound call frame fails to parse.
var ErrInvalidCallFrame = errors.New("invalid call frame")

const (
	callHeaderLen = 5 // kind (1 byte), call id (4 bytes)
	maxNameLen    = 256
)

// callFrame is the unit exchanged on call streams. The call id correlates
// a reply or error with its pending call on the initiator side.
type callFrame struct {
	Kind    FrameKind
	CallID  uint32
	Payload []byte
}

func (f callFrame) encode() []byte {
	buf := make([]byte, callHeaderLen, callHeaderLen+len(f.Payload))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:5], f.CallID)
	return append(buf, f.Payload...)
}

func decodeCallFrame(b []byte) (callFrame, error) {
	if len(b) < callHeaderLen {
		return callFrame{}, ErrInvalidCallFrame
	}
	return callFrame{
		Kind:    FrameKind(b[0]),
		CallID:  binary.BigEndian.Uint32(b[1:5]),
		Payload: b[callHeaderLen:],
	}, nil
}

// callEnvelope is the payload of a KindCall frame: the target name, the
// expected actor type identifiers, and the encoded ping.
type callEnvelope struct {
	Name      string
	ActorType string
	TypeID    uuid.UUID
	Ping      []byte
}

func (e callEnvelope) encode() []byte {
	buf := make([]byte, 0, 32+len(e.Name)+len(e.ActorType)+len(e.Ping))
	buf = appendField(buf, e.Name)
	buf = appendField(buf, e.ActorType)
	buf = append(buf, e.TypeID[:]...)
	return append(buf, e.Ping...)
}

func decodeCallEnvelope(b []byte) (callEnvelope, error) {
	var e callEnvelope
	var err error

	e.Name, b, err = readField(b)
	if err != nil {
		return callEnvelope{}, err
	}
	e.ActorType, b, err = readField(b)
	if err != nil {
		return callEnvelope{}, err
	}
	if len(b) < 16 {
		return callEnvelope{}, ErrInvalidCallFrame
	}
	copy(e.TypeID[:], b[:16])
	e.Ping = b[16:]
	return e, nil
}

func appendField(buf []byte, s string) []byte {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(s)))
	buf = append(buf, l[:n]...)
	return append(buf, s...)
}

func readField(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > maxNameLen {
		return "", nil, ErrInvalidCallFrame
	}
	rest := b[n:]
	if uint64(len(rest)) < l {
		return "", nil, ErrInvalidCallFrame
	}
	return string(rest[:l]), rest[l:], nil
}
