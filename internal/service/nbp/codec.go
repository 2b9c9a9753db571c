// Package nbp implements the NBP (Name Binding Protocol) routing behavior
// from spec.md §4.8: broadcast and forward requests are rewritten and
// relayed toward the zone or network they name, never answered locally —
// this router has no name registry of its own (spec.md's Non-goals
// explicitly exclude one).
package nbp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Socket is the DDP socket NBP listens on (NBP_SAS).
const Socket uint8 = 2

// DDPType is the DDP type every NBP datagram carries.
const DDPType uint8 = 2

// NBP function codes, carried in the high nibble of the first body byte.
const (
	FuncBrRq   uint8 = 1
	FuncLkUp   uint8 = 2
	FuncFwdReq uint8 = 4
)

// maxFieldLen bounds each of NBP's three length-prefixed name fields.
const maxFieldLen = 32

// wildcardZone is the zone name a non-extended node uses to mean "my
// zone, whichever that is."
const wildcardZone = "*"

// ErrMalformed is returned by parsing when an NBP body is truncated, names
// more than one tuple, or carries an oversized field.
var ErrMalformed = errors.New("nbp: malformed datagram")

// tuple is the single NBP address tuple spec.md §4.8 requires every
// BrRq/FwdReq/LkUp this router handles to carry exactly one of.
type tuple struct {
	network    uint16
	node       uint8
	socket     uint8
	enumerator uint8
	object     string
	typ        string
	zone       string
}

// parseNBP parses an NBP body: a control byte (func in the high nibble,
// tuple count in the low nibble, which must be 1), an nbp_id byte, then
// one tuple: network:u16, node:u8, socket:u8, enumerator:u8, followed by
// three Pascal-style (len:u8, bytes) fields for Object, Type, and Zone.
func parseNBP(body []byte) (funcCode uint8, nbpID uint8, tup tuple, err error) {
	if len(body) < 7 {
		return 0, 0, tuple{}, fmt.Errorf("%w: body shorter than the fixed tuple header", ErrMalformed)
	}
	funcCode = body[0] >> 4
	tupleCount := body[0] & 0x0F
	if tupleCount != 1 {
		return 0, 0, tuple{}, fmt.Errorf("%w: tuple count %d, want 1", ErrMalformed, tupleCount)
	}
	nbpID = body[1]
	tup.network = binary.BigEndian.Uint16(body[2:4])
	tup.node = body[4]
	tup.socket = body[5]
	tup.enumerator = body[6]

	rest := body[7:]
	tup.object, rest, err = parseField(rest)
	if err != nil {
		return 0, 0, tuple{}, err
	}
	tup.typ, rest, err = parseField(rest)
	if err != nil {
		return 0, 0, tuple{}, err
	}
	tup.zone, _, err = parseField(rest)
	if err != nil {
		return 0, 0, tuple{}, err
	}
	if tup.zone == "" {
		tup.zone = wildcardZone
	}
	return funcCode, nbpID, tup, nil
}

func parseField(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("%w: truncated field length", ErrMalformed)
	}
	n := int(b[0])
	if n > maxFieldLen {
		return "", nil, fmt.Errorf("%w: field length %d exceeds %d", ErrMalformed, n, maxFieldLen)
	}
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("%w: truncated field", ErrMalformed)
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}

// encodeNBP renders an NBP body with a new function code around the same
// tuple, used to rewrite BrRq into LkUp/FwdReq without re-parsing the
// caller-supplied names.
func encodeNBP(funcCode uint8, nbpID uint8, tup tuple) []byte {
	out := make([]byte, 0, 7+3+len(tup.object)+len(tup.typ)+len(tup.zone))
	out = append(out, (funcCode<<4)|1, nbpID)
	out = appendU16(out, tup.network)
	out = append(out, tup.node, tup.socket, tup.enumerator)
	out = appendField(out, tup.object)
	out = appendField(out, tup.typ)
	out = appendField(out, tup.zone)
	return out
}

func appendField(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
