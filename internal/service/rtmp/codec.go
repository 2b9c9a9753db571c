// Package rtmp implements the RTMP responding and sending services
// described in spec.md §4.5–4.6: interpreting routing tuples into the
// Routing Table, answering RTMP Request/RDR datagrams, and periodically
// broadcasting the table as RTMP data.
package rtmp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Socket is the DDP socket RTMP responding listens on (RTMP_SAS).
const Socket uint8 = 1

// DDP types RTMP uses.
const (
	DDPTypeData    uint8 = 1
	DDPTypeRequest uint8 = 5
)

// RTMP Request/RDR function codes, carried as the first byte of a
// DDPTypeRequest datagram's body.
const (
	FuncRequest             uint8 = 1
	FuncRDRSplitHorizon      uint8 = 2
	FuncRDRNoSplitHorizon    uint8 = 3
)

// version is the fixed RTMP version byte spec.md §6 requires every tuple
// stream carry.
const version uint8 = 0x82

// notifyNeighborDistance is the wire value (and the floor) at which a
// received tuple means "mark this entry bad" rather than "here's a path",
// per spec.md's open question: 15 is the canonical signal, 31 (all five
// distance bits set) is accepted on ingest too.
const notifyNeighborDistance = 15

// ErrMalformed is returned by parsing when the tuple stream is truncated,
// has a bad id_length/version, or doesn't end exactly at the datagram's
// end, per spec.md §4.5.
var ErrMalformed = errors.New("rtmp: malformed datagram")

// tuple is one parsed routing tuple: a range (max == min for a
// non-extended tuple) and the wire distance byte it arrived with (already
// masked to 5 bits).
type tuple struct {
	min, max uint16
	distance int
}

// header is the parsed fixed portion of an RTMP data datagram: the
// sender's own address and its own network range.
type header struct {
	senderNetwork          uint16
	senderNode             uint8
	senderNetworkMin       uint16
	senderNetworkMax       uint16
}

// parseData parses an RTMP data datagram's body per spec.md §4.5 steps
// 1–4. extended says whether the receiving Port is an extended cable,
// which determines the header's shape.
func parseData(data []byte, extended bool) (header, []tuple, error) {
	if len(data) < 4 {
		return header{}, nil, fmt.Errorf("%w: body shorter than 4 bytes", ErrMalformed)
	}
	senderNetwork := binary.BigEndian.Uint16(data[0:2])
	idLength := data[2]
	senderNode := data[3]
	if idLength != 8 {
		return header{}, nil, fmt.Errorf("%w: id_length %d != 8", ErrMalformed, idLength)
	}

	var h header
	h.senderNetwork = senderNetwork
	h.senderNode = senderNode

	var rest []byte
	if extended {
		if len(data) < 10 {
			return header{}, nil, fmt.Errorf("%w: extended header shorter than 10 bytes", ErrMalformed)
		}
		min := binary.BigEndian.Uint16(data[4:6])
		if data[6]&0x80 == 0 {
			return header{}, nil, fmt.Errorf("%w: extended header tuple missing high bit", ErrMalformed)
		}
		max := binary.BigEndian.Uint16(data[7:9])
		if data[9] != version {
			return header{}, nil, fmt.Errorf("%w: bad version byte 0x%02X", ErrMalformed, data[9])
		}
		h.senderNetworkMin, h.senderNetworkMax = min, max
		rest = data[10:]
	} else {
		if len(data) < 7 {
			return header{}, nil, fmt.Errorf("%w: header shorter than 7 bytes", ErrMalformed)
		}
		if binary.BigEndian.Uint16(data[4:6]) != 0 {
			return header{}, nil, fmt.Errorf("%w: non-extended header min/max not zero", ErrMalformed)
		}
		if data[6] != version {
			return header{}, nil, fmt.Errorf("%w: bad version byte 0x%02X", ErrMalformed, data[6])
		}
		h.senderNetworkMin, h.senderNetworkMax = senderNetwork, senderNetwork
		rest = data[7:]
	}

	tuples, err := parseTuples(rest)
	if err != nil {
		return header{}, nil, err
	}
	return h, tuples, nil
}

// parseTuples parses the tuple stream following an RTMP data header:
// min:u16, range_distance:u8, and if the high bit of range_distance is
// set, max:u16, version:u8 (version ignored). Rejects any stream that
// does not end exactly at its own end.
func parseTuples(b []byte) ([]tuple, error) {
	var out []tuple
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, fmt.Errorf("%w: truncated tuple", ErrMalformed)
		}
		min := binary.BigEndian.Uint16(b[0:2])
		rangeDistance := b[2]
		distance := int(rangeDistance & 0x1F)
		if rangeDistance&0x80 != 0 {
			if len(b) < 6 {
				return nil, fmt.Errorf("%w: truncated extended tuple", ErrMalformed)
			}
			max := binary.BigEndian.Uint16(b[3:5])
			out = append(out, tuple{min: min, max: max, distance: distance})
			b = b[6:]
		} else {
			out = append(out, tuple{min: min, max: min, distance: distance})
			b = b[3:]
		}
	}
	return out, nil
}

// encodeHeader renders the fixed header for an outbound RTMP data
// datagram sent on port (network, node, range). extended selects the
// extended vs non-extended shape from spec.md §4.6 step 2.
func encodeHeader(network uint16, node uint8, networkMin, networkMax uint16, extended bool) []byte {
	out := make([]byte, 0, 10)
	out = appendU16(out, network)
	out = append(out, 8, node)
	if extended {
		out = appendU16(out, networkMin)
		out = append(out, 0x80)
		out = appendU16(out, networkMax)
		out = append(out, version)
	} else {
		out = appendU16(out, 0)
		out = append(out, version)
	}
	return out
}

// encodeTuple renders one routing-table entry as an outbound tuple, per
// spec.md §4.6 step 3.
func encodeTuple(min, max uint16, distance int, extended bool) []byte {
	out := make([]byte, 0, 6)
	out = appendU16(out, min)
	if extended {
		out = append(out, byte(distance&0x1F)|0x80)
		out = appendU16(out, max)
		out = append(out, version)
	} else {
		out = append(out, byte(distance&0x1F))
	}
	return out
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
