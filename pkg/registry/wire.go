package registry

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"github.com/watercompany/pingmesh/pkg/cipher"
)

// ErrInvalidRecord is returned when a gossiped record fails to decode.
var ErrInvalidRecord = errors.New("invalid registry record")

const maxFieldLen = 256

// Encode serializes r into the envelope carried on gossip streams:
// owner key (33 bytes), type id (16 bytes), clock (8 bytes, big-endian),
// retracted flag (1 byte), then uvarint-prefixed name and actor type.
func (r Record) Encode() []byte {
	buf := make([]byte, 0, 64+len(r.Name)+len(r.ActorType))
	buf = append(buf, r.Owner[:]...)
	buf = append(buf, r.TypeID[:]...)

	var clock [8]byte
	binary.BigEndian.PutUint64(clock[:], r.Clock)
	buf = append(buf, clock[:]...)

	if r.Retracted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendField(buf, r.Name)
	buf = appendField(buf, r.ActorType)
	return buf
}

// DecodeRecord parses an envelope produced by Encode.
func DecodeRecord(b []byte) (Record, error) {
	const fixed = 33 + 16 + 8 + 1
	if len(b) < fixed {
		return Record{}, ErrInvalidRecord
	}

	var rec Record
	owner, err := cipher.NewPubKey(b[:33])
	if err != nil {
		return Record{}, ErrInvalidRecord
	}
	rec.Owner = owner

	var id uuid.UUID
	copy(id[:], b[33:49])
	rec.TypeID = id

	rec.Clock = binary.BigEndian.Uint64(b[49:57])

	switch b[57] {
	case 0:
	case 1:
		rec.Retracted = true
	default:
		return Record{}, ErrInvalidRecord
	}

	rest := b[fixed:]
	rec.Name, rest, err = readField(rest)
	if err != nil {
		return Record{}, err
	}
	rec.ActorType, rest, err = readField(rest)
	if err != nil {
		return Record{}, err
	}
	if len(rest) != 0 {
		return Record{}, ErrInvalidRecord
	}
	return rec, nil
}

func appendField(buf []byte, s string) []byte {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(s)))
	buf = append(buf, l[:n]...)
	return append(buf, s...)
}

func readField(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > maxFieldLen {
		return "", nil, ErrInvalidRecord
	}
	rest := b[n:]
	if uint64(len(rest)) < l {
		return "", nil, ErrInvalidRecord
	}
	return string(rest[:l]), rest[l:], nil
}
