// Package zip implements the ZIP responding and sending services from
// spec.md §4.7: Query/Reply/ExtReply/GetNetInfo over DDP, plus the
// ATP-based GetMyZone/GetZoneList/GetLocalZones transactions that answer
// zone-list requests.
package zip

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wesleywu/atalk-router/internal/ddp"
)

// Socket is the DDP socket ZIP listens on (ZIP_SAS).
const Socket uint8 = 6

// DDP types ZIP's two protocols use.
const (
	DDPTypeZIP uint8 = 6
	DDPTypeATP uint8 = 3
)

// ZIP function codes, carried as the first byte of a DDPTypeZIP body.
const (
	FuncQuery           uint8 = 1
	FuncReply           uint8 = 2
	FuncGetNetInfo      uint8 = 5
	FuncGetNetInfoReply uint8 = 6
	FuncExtReply        uint8 = 8
)

// GetNetInfo reply flag bits.
const (
	FlagZoneInvalid uint8 = 1 << 7
	FlagUseBroadcast uint8 = 1 << 6
	FlagOnlyOneZone  uint8 = 1 << 5
)

// ATP control-byte bits and the GetMyZone/GetZoneList/GetLocalZones
// request/response shape.
const (
	atpControlTREQ    uint8 = 0x40
	atpControlTRESPEOM uint8 = 0x90
	atpBitmapFirst    uint8 = 1
)

// ATP function codes carried in an ATP zone-list request.
const (
	FuncGetMyZone     uint8 = 7
	FuncGetZoneList   uint8 = 8
	FuncGetLocalZones uint8 = 9
)

// ErrMalformed is returned by parsing when a ZIP or ATP body is truncated
// or fails a structural check.
var ErrMalformed = errors.New("zip: malformed datagram")

// zonePair is one (network_min, zone_name) association carried in a
// Reply/ExtReply body.
type zonePair struct {
	networkMin uint16
	zone       string
}

// parseQuery parses a ZIP Query body (func already consumed by caller):
// count:u8, (network:u16)*count.
func parseQuery(body []byte) ([]uint16, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty query body", ErrMalformed)
	}
	count := int(body[0])
	rest := body[1:]
	if len(rest) != count*2 {
		return nil, fmt.Errorf("%w: query count %d doesn't match body length %d", ErrMalformed, count, len(rest))
	}
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		out[i] = binary.BigEndian.Uint16(rest[i*2 : i*2+2])
	}
	return out, nil
}

// encodeQuery renders a ZIP Query body for the given
// network numbers, chunked by the caller to MaxDataLength.
func encodeQuery(networks []uint16) []byte {
	out := make([]byte, 0, 2+2*len(networks))
	out = append(out, FuncQuery, byte(len(networks)))
	for _, n := range networks {
		out = appendU16(out, n)
	}
	return out
}

// parseReplyPairs parses a Reply/ExtReply body (func already consumed by
// caller): count:u8, (network_min:u16, len:u8, name[len])*.
func parseReplyPairs(body []byte) (count int, pairs []zonePair, err error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("%w: empty reply body", ErrMalformed)
	}
	count = int(body[0])
	rest := body[1:]
	for len(rest) > 0 {
		if len(rest) < 3 {
			return 0, nil, fmt.Errorf("%w: truncated reply pair", ErrMalformed)
		}
		netMin := binary.BigEndian.Uint16(rest[0:2])
		nameLen := int(rest[2])
		if len(rest) < 3+nameLen {
			return 0, nil, fmt.Errorf("%w: truncated zone name", ErrMalformed)
		}
		name := string(rest[3 : 3+nameLen])
		pairs = append(pairs, zonePair{networkMin: netMin, zone: name})
		rest = rest[3+nameLen:]
	}
	return count, pairs, nil
}

// encodeReplyPairs renders one Reply/ExtReply datagram body: func, count
// (the total across all datagrams in this response, per spec.md §4.7),
// followed by however many pairs fit in this chunk.
func encodeReplyPairs(funcCode uint8, totalCount int, pairs []zonePair) []byte {
	out := make([]byte, 0, 2)
	out = append(out, funcCode, byte(totalCount))
	for _, p := range pairs {
		out = appendU16(out, p.networkMin)
		out = append(out, byte(len(p.zone)))
		out = append(out, p.zone...)
	}
	return out
}

// pairSize is the wire size of one zonePair in a Reply/ExtReply body.
func pairSize(p zonePair) int {
	return 3 + len(p.zone)
}

// parseGetNetInfoRequest parses the body of a GetNetInfo request (func
// already consumed by caller): 5 zero bytes, len:u8, zone_name[len].
func parseGetNetInfoRequest(body []byte) (zoneName string, err error) {
	if len(body) < 6 {
		return "", fmt.Errorf("%w: GetNetInfo request shorter than 6 bytes", ErrMalformed)
	}
	for _, b := range body[:5] {
		if b != 0 {
			return "", fmt.Errorf("%w: GetNetInfo reserved bytes not zero", ErrMalformed)
		}
	}
	nameLen := int(body[5])
	if len(body) < 6+nameLen {
		return "", fmt.Errorf("%w: truncated GetNetInfo zone name", ErrMalformed)
	}
	return string(body[6 : 6+nameLen]), nil
}

// getNetInfoReply is the reply payload for GetNetInfo, per spec.md §4.7:
// func=6, flags, range_min, range_max, len(given_zone), given_zone,
// len(multicast), multicast, and if ZONE_INVALID, len(default_zone),
// default_zone.
type getNetInfoReply struct {
	flags              uint8
	rangeMin, rangeMax uint16
	givenZone          string
	multicast          []byte
	defaultZone        string // only used if flags&FlagZoneInvalid != 0
}

func (r getNetInfoReply) encode() []byte {
	out := make([]byte, 0, 16+len(r.givenZone)+len(r.multicast)+len(r.defaultZone))
	out = append(out, FuncGetNetInfoReply, r.flags)
	out = appendU16(out, r.rangeMin)
	out = appendU16(out, r.rangeMax)
	out = append(out, byte(len(r.givenZone)))
	out = append(out, r.givenZone...)
	out = append(out, byte(len(r.multicast)))
	out = append(out, r.multicast...)
	if r.flags&FlagZoneInvalid != 0 {
		out = append(out, byte(len(r.defaultZone)))
		out = append(out, r.defaultZone...)
	}
	return out
}

// parseATPRequest parses the fixed 8-byte ATP zone-transaction request
// body from spec.md §4.7: control, bitmap, tid:u16, func, 0, start_index:u16.
func parseATPRequest(body []byte) (tid uint16, funcCode uint8, startIndex uint16, err error) {
	if len(body) != 8 {
		return 0, 0, 0, fmt.Errorf("%w: ATP zone request must be 8 bytes, got %d", ErrMalformed, len(body))
	}
	control, bitmap := body[0], body[1]
	if control != atpControlTREQ {
		return 0, 0, 0, fmt.Errorf("%w: ATP control byte 0x%02X != TREQ", ErrMalformed, control)
	}
	if bitmap != atpBitmapFirst {
		return 0, 0, 0, fmt.Errorf("%w: ATP bitmap 0x%02X != 1", ErrMalformed, bitmap)
	}
	tid = binary.BigEndian.Uint16(body[2:4])
	funcCode = body[4]
	if body[5] != 0 {
		return 0, 0, 0, fmt.Errorf("%w: ATP reserved byte not zero", ErrMalformed)
	}
	startIndex = binary.BigEndian.Uint16(body[6:8])
	return tid, funcCode, startIndex, nil
}

// encodeATPResponse renders the fixed TRESP|EOM header followed by as
// many (len,name) zone entries from zones[startIndex-1:] as fit within
// MaxDataLength, 1-based per spec.md §4.7. Returns the response body only;
// its last_flag byte (body[4]) is 1 when every remaining zone fit.
func encodeATPResponse(tid uint16, zones []string, startIndex uint16) []byte {
	var idx int
	if startIndex >= 1 {
		idx = int(startIndex) - 1
	}

	const headerSize = 8
	body := make([]byte, headerSize, ddp.MaxDataLength)
	body[0] = atpControlTRESPEOM
	body[1] = 0
	binary.BigEndian.PutUint16(body[2:4], tid)
	// body[4] (last_flag) and body[6:8] (num_zones) filled in below.
	body[5] = 0

	var numZones uint16
	lastFlag := uint8(1)
	for idx < len(zones) {
		z := zones[idx]
		entry := make([]byte, 0, 1+len(z))
		entry = append(entry, byte(len(z)))
		entry = append(entry, z...)
		if len(body)+len(entry) > ddp.MaxDataLength {
			lastFlag = 0
			break
		}
		body = append(body, entry...)
		numZones++
		idx++
	}

	body[4] = lastFlag
	binary.BigEndian.PutUint16(body[6:8], numZones)
	return body
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
