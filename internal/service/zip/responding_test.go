package zip

import (
	"testing"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/zone"
)

type fakePort struct {
	label                           string
	network, networkMin, networkMax uint16
	node                            uint8
	extended                        bool
	mcast                           map[string][]byte

	queryCalls     []ddp.Datagram
	broadcastCalls int
}

func (p *fakePort) Network() uint16            { return p.network }
func (p *fakePort) Node() uint8                { return p.node }
func (p *fakePort) NetworkMin() uint16         { return p.networkMin }
func (p *fakePort) NetworkMax() uint16         { return p.networkMax }
func (p *fakePort) ExtendedNetwork() bool      { return p.extended }
func (p *fakePort) Start(port.Inbounder) error { return nil }
func (p *fakePort) Stop() error                { return nil }
func (p *fakePort) Unicast(network uint16, node uint8, d ddp.Datagram) error {
	p.queryCalls = append(p.queryCalls, d)
	return nil
}
func (p *fakePort) Broadcast(d ddp.Datagram) error {
	p.broadcastCalls++
	p.queryCalls = append(p.queryCalls, d)
	return nil
}
func (p *fakePort) Multicast(string, ddp.Datagram) error { return nil }
func (p *fakePort) MulticastAddress(zoneName string) []byte {
	if p.mcast == nil {
		return nil
	}
	return p.mcast[zoneName]
}
func (p *fakePort) SetNetworkRange(min, max uint16) error {
	p.networkMin, p.networkMax = min, max
	return nil
}
func (p *fakePort) RangeSet() bool { return p.networkMax != 0 }
func (p *fakePort) ID() uint64     { return port.IDFromLabel(p.label) }
func (p *fakePort) String() string { return p.label }

var _ port.Port = (*fakePort)(nil)

type recordingReplier struct {
	calls []replyCall
}

type replyCall struct {
	d       ddp.Datagram
	rxPort  port.Port
	ddpType uint8
	data    []byte
}

func (r *recordingReplier) Reply(d ddp.Datagram, rxPort port.Port, ddpType uint8, data []byte) error {
	r.calls = append(r.calls, replyCall{d, rxPort, ddpType, data})
	return nil
}

func newTestResponding(rt *rtable.Table, zit *zone.Table, router *recordingReplier) *Responding {
	return NewResponding(rt, zit, router, nil, logger.New("error"))
}

func TestHandleReplyAddsZoneDirectly(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{label: "A"}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	resp := newTestResponding(rt, zit, &recordingReplier{})

	body := encodeReplyPairs(FuncReply, 1, []zonePair{{networkMin: 100, zone: "Engineering"}})
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: body}, p)

	max := uint16(110)
	zones := zit.ZonesInNetworkRange(100, &max)
	if len(zones) != 1 || zones[0] != "Engineering" {
		t.Fatalf("expected zone Engineering to be learned, got %v", zones)
	}
}

func TestHandleReplyDiscardsUnknownRange(t *testing.T) {
	rt := rtable.New(nil)
	zit := zone.New()
	resp := newTestResponding(rt, zit, &recordingReplier{})

	body := encodeReplyPairs(FuncReply, 1, []zonePair{{networkMin: 999, zone: "Ghost"}})
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: body}, &fakePort{label: "A"})

	if len(zit.Zones()) != 0 {
		t.Fatalf("expected no zones learned for an unrouted range, got %v", zit.Zones())
	}
}

// TestHandleExtReplyAccumulatesAcrossDatagrams exercises the accumulate-
// then-flush behavior spec.md §4.7 describes for multi-datagram ExtReply.
func TestHandleExtReplyAccumulatesAcrossDatagrams(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{label: "A"}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	resp := newTestResponding(rt, zit, &recordingReplier{})

	first := encodeReplyPairs(FuncExtReply, 3, []zonePair{
		{networkMin: 100, zone: "Engineering"},
		{networkMin: 100, zone: "Marketing"},
	})
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: first}, p)

	max := uint16(110)
	if zones := zit.ZonesInNetworkRange(100, &max); zones != nil {
		t.Fatalf("expected no flush before the accumulated count reaches the total, got %v", zones)
	}

	second := encodeReplyPairs(FuncExtReply, 3, []zonePair{
		{networkMin: 100, zone: "Sales"},
	})
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: second}, p)

	zones := zit.ZonesInNetworkRange(100, &max)
	if len(zones) != 3 {
		t.Fatalf("expected all 3 zones flushed after the accumulated count matched, got %v", zones)
	}
}

func TestHandleQueryEmitsExtReplyWithZones(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{label: "A"}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	max := uint16(110)
	_ = zit.AddNetworksToZone("Engineering", 100, &max)
	_ = zit.AddNetworksToZone("Marketing", 100, &max)

	router := &recordingReplier{}
	resp := newTestResponding(rt, zit, router)

	query := encodeQuery([]uint16{100})
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: query, SourceNetwork: 100, SourceNode: 9}, p)

	if len(router.calls) != 1 {
		t.Fatalf("expected one ExtReply datagram, got %d", len(router.calls))
	}
	call := router.calls[0]
	if call.ddpType != DDPTypeZIP {
		t.Fatalf("expected ZIP ddp type in reply, got %d", call.ddpType)
	}
	count, pairs, err := parseReplyPairs(call.data[1:])
	if err != nil {
		t.Fatalf("parseReplyPairs: %v", err)
	}
	if count != 2 || len(pairs) != 2 {
		t.Fatalf("expected both zones in the reply, got count=%d pairs=%v", count, pairs)
	}
}

func TestHandleGetNetInfoZoneInvalidFallsBackToDefault(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{label: "A", networkMin: 100, networkMax: 110}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	max := uint16(110)
	_ = zit.AddNetworksToZone("Engineering", 100, &max)
	_ = zit.AddNetworksToZone("Marketing", 100, &max)

	router := &recordingReplier{}
	resp := newTestResponding(rt, zit, router)

	body := append([]byte{FuncGetNetInfo}, make([]byte, 5)...)
	body = append(body, byte(len("Bogus")))
	body = append(body, "Bogus"...)
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: body, SourceNetwork: 100, SourceNode: 9}, p)

	if len(router.calls) != 1 {
		t.Fatalf("expected one GetNetInfo reply, got %d", len(router.calls))
	}
	flags := router.calls[0].data[1]
	if flags&FlagZoneInvalid == 0 {
		t.Fatal("expected ZONE_INVALID to be set for an unknown zone name")
	}
	if flags&FlagOnlyOneZone != 0 {
		t.Fatal("expected ONLY_ONE_ZONE clear when the range has more than one zone")
	}
}

func TestHandleGetNetInfoUsesPortMulticastAddress(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{
		label: "A", networkMin: 100, networkMax: 110,
		mcast: map[string][]byte{"Engineering": {0x09, 0x00, 0x07, 0x00, 0x00, 0x01}},
	}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	max := uint16(110)
	_ = zit.AddNetworksToZone("Engineering", 100, &max)

	router := &recordingReplier{}
	resp := newTestResponding(rt, zit, router)

	body := append([]byte{FuncGetNetInfo}, make([]byte, 5)...)
	body = append(body, byte(len("Engineering")))
	body = append(body, "Engineering"...)
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeZIP, Data: body, SourceNetwork: 100, SourceNode: 9}, p)

	data := router.calls[0].data
	flags := data[1]
	if flags&FlagUseBroadcast != 0 {
		t.Fatal("expected USE_BROADCAST clear when the port has a real multicast address")
	}
	if flags&FlagZoneInvalid != 0 {
		t.Fatal("expected ZONE_INVALID clear for a known zone")
	}
}

func TestHandleATPGetZoneListPagination(t *testing.T) {
	rt := rtable.New(nil)
	zit := zone.New()
	max := uint16(110)
	_ = zit.AddNetworksToZone("Engineering", 100, &max)
	_ = zit.AddNetworksToZone("Marketing", 100, &max)

	router := &recordingReplier{}
	resp := newTestResponding(rt, zit, router)

	req := []byte{atpControlTREQ, atpBitmapFirst, 0, 7, FuncGetZoneList, 0, 0, 1}
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeATP, Data: req}, &fakePort{label: "A"})

	if len(router.calls) != 1 {
		t.Fatalf("expected one ATP response, got %d", len(router.calls))
	}
	data := router.calls[0].data
	if data[0] != atpControlTRESPEOM {
		t.Fatalf("expected TRESP|EOM, got 0x%02X", data[0])
	}
}

func TestHandleATPGetMyZoneReturnsDefaultZoneOfSourceRange(t *testing.T) {
	rt := rtable.New(nil)
	p := &fakePort{label: "A"}
	rt.Consider(rtable.Entry{NetworkMin: 100, NetworkMax: 110, Distance: 0, Port: p})
	zit := zone.New()
	max := uint16(110)
	_ = zit.AddNetworksToZone("Engineering", 100, &max)

	router := &recordingReplier{}
	resp := newTestResponding(rt, zit, router)

	req := []byte{atpControlTREQ, atpBitmapFirst, 0, 1, FuncGetMyZone, 0, 0, 1}
	resp.Deliver(ddp.Datagram{DDPType: DDPTypeATP, Data: req, SourceNetwork: 105}, p)

	if len(router.calls) != 1 {
		t.Fatal("expected a GetMyZone reply")
	}
	data := router.calls[0].data
	numZones := int(data[6])<<8 | int(data[7])
	if numZones != 1 {
		t.Fatalf("expected exactly one zone in a GetMyZone reply, got %d", numZones)
	}
}
