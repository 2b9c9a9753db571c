package rtmp

import "testing"

func TestParseDataExtendedHeaderAndTuples(t *testing.T) {
	body := encodeHeader(100, 1, 50, 60, true)
	body = append(body, encodeTuple(200, 210, 1, true)...)

	h, tuples, err := parseData(body, true)
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}
	if h.senderNetwork != 100 || h.senderNode != 1 {
		t.Fatalf("unexpected sender: %+v", h)
	}
	if h.senderNetworkMin != 50 || h.senderNetworkMax != 60 {
		t.Fatalf("unexpected sender range: %+v", h)
	}
	if len(tuples) != 1 || tuples[0].min != 200 || tuples[0].max != 210 || tuples[0].distance != 1 {
		t.Fatalf("unexpected tuples: %+v", tuples)
	}
}

func TestParseDataNonExtendedHeader(t *testing.T) {
	body := encodeHeader(100, 1, 100, 100, false)
	body = append(body, encodeTuple(5, 5, 2, false)...)

	h, tuples, err := parseData(body, false)
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}
	if h.senderNetworkMin != 100 || h.senderNetworkMax != 100 {
		t.Fatalf("non-extended sender range should equal sender network, got %+v", h)
	}
	if len(tuples) != 1 || tuples[0].min != 5 || tuples[0].max != 5 || tuples[0].distance != 2 {
		t.Fatalf("unexpected tuples: %+v", tuples)
	}
}

func TestParseDataRejectsTrailingGarbage(t *testing.T) {
	body := encodeHeader(100, 1, 100, 100, false)
	body = append(body, 0x01) // one stray byte, not a full tuple

	if _, _, err := parseData(body, false); err == nil {
		t.Fatal("expected malformed error for truncated trailing tuple")
	}
}

func TestParseDataRejectsBadVersion(t *testing.T) {
	body := encodeHeader(100, 1, 100, 100, false)
	body[6] = 0x01 // wrong version byte

	if _, _, err := parseData(body, false); err == nil {
		t.Fatal("expected malformed error for bad version byte")
	}
}

func TestEncodeDecodeTupleRoundTrip(t *testing.T) {
	tup := encodeTuple(300, 320, 5, true)
	tuples, err := parseTuples(tup)
	if err != nil {
		t.Fatalf("parseTuples: %v", err)
	}
	if len(tuples) != 1 || tuples[0].min != 300 || tuples[0].max != 320 || tuples[0].distance != 5 {
		t.Fatalf("unexpected round trip: %+v", tuples)
	}
}
