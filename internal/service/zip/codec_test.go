package zip

import (
	"bytes"
	"testing"
)

func TestParseAndEncodeQueryRoundTrip(t *testing.T) {
	body := encodeQuery([]uint16{100, 200, 300})
	networks, err := parseQuery(body[1:])
	if err != nil {
		t.Fatalf("parseQuery: %v", err)
	}
	if len(networks) != 3 || networks[0] != 100 || networks[1] != 200 || networks[2] != 300 {
		t.Fatalf("unexpected networks: %v", networks)
	}
}

func TestParseQueryRejectsTruncation(t *testing.T) {
	body := []byte{2, 0, 100} // count=2 but only one network's worth of bytes
	if _, err := parseQuery(body); err == nil {
		t.Fatal("expected error for truncated query body")
	}
}

func TestEncodeParseReplyPairsRoundTrip(t *testing.T) {
	pairs := []zonePair{{networkMin: 100, zone: "Engineering"}, {networkMin: 100, zone: "Marketing"}}
	body := encodeReplyPairs(FuncExtReply, 2, pairs)
	if body[0] != FuncExtReply || body[1] != 2 {
		t.Fatalf("unexpected header bytes: %v", body[:2])
	}
	count, got, err := parseReplyPairs(body[1:])
	if err != nil {
		t.Fatalf("parseReplyPairs: %v", err)
	}
	if count != 2 || len(got) != 2 {
		t.Fatalf("unexpected parse: count=%d pairs=%v", count, got)
	}
	if got[0] != pairs[0] || got[1] != pairs[1] {
		t.Fatalf("round trip mismatch: got %v want %v", got, pairs)
	}
}

func TestParseReplyPairsRejectsTruncatedName(t *testing.T) {
	body := []byte{1, 0, 100, 5, 'a', 'b'} // name length 5 but only 2 bytes follow
	if _, _, err := parseReplyPairs(body); err == nil {
		t.Fatal("expected error for truncated zone name")
	}
}

func TestGetNetInfoReplyEncodeZoneInvalid(t *testing.T) {
	r := getNetInfoReply{
		flags:       FlagZoneInvalid | FlagUseBroadcast,
		rangeMin:    100,
		rangeMax:    110,
		givenZone:   "Bogus",
		multicast:   nil,
		defaultZone: "Engineering",
	}
	body := r.encode()
	if body[0] != FuncGetNetInfoReply {
		t.Fatalf("expected func byte %d, got %d", FuncGetNetInfoReply, body[0])
	}
	if body[1] != r.flags {
		t.Fatalf("expected flags %08b, got %08b", r.flags, body[1])
	}
	if !bytes.Contains(body, []byte(r.defaultZone)) {
		t.Fatal("expected default zone name to be present when ZONE_INVALID is set")
	}
}

func TestParseGetNetInfoRequestRejectsNonZeroReserved(t *testing.T) {
	body := []byte{0, 0, 0, 0, 1, 4, 'A', 'B', 'C', 'D'}
	if _, err := parseGetNetInfoRequest(body); err == nil {
		t.Fatal("expected error when reserved bytes aren't zero")
	}
}

func TestATPRequestResponseRoundTrip(t *testing.T) {
	req := []byte{atpControlTREQ, atpBitmapFirst, 0, 42, FuncGetZoneList, 0, 0, 1}
	tid, funcCode, startIndex, err := parseATPRequest(req)
	if err != nil {
		t.Fatalf("parseATPRequest: %v", err)
	}
	if tid != 42 || funcCode != FuncGetZoneList || startIndex != 1 {
		t.Fatalf("unexpected parse: tid=%d func=%d start=%d", tid, funcCode, startIndex)
	}

	resp := encodeATPResponse(tid, []string{"Engineering", "Marketing", "Sales"}, startIndex)
	if resp[0] != atpControlTRESPEOM {
		t.Fatalf("expected TRESP|EOM control byte, got 0x%02X", resp[0])
	}
	if resp[4] != 1 {
		t.Fatal("expected last_flag set when every zone fit in one datagram")
	}
}

func TestATPRequestRejectsWrongControlByte(t *testing.T) {
	req := []byte{0x00, atpBitmapFirst, 0, 1, FuncGetMyZone, 0, 0, 1}
	if _, _, _, err := parseATPRequest(req); err == nil {
		t.Fatal("expected error for non-TREQ control byte")
	}
}
