package nbp

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

	broadcastCalls []ddp.Datagram
	multicastCalls []multicastCall
}

type multicastCall struct {
	zone string
	d    ddp.Datagram
}

func (p *fakePort) Network() uint16            { return p.network }
func (p *fakePort) Node() uint8                { return p.node }
func (p *fakePort) NetworkMin() uint16         { return p.networkMin }
func (p *fakePort) NetworkMax() uint16         { return p.networkMax }
func (p *fakePort) ExtendedNetwork() bool      { return p.extended }
func (p *fakePort) Start(port.Inbounder) error { return nil }
func (p *fakePort) Stop() error                { return nil }
func (p *fakePort) Unicast(uint16, uint8, ddp.Datagram) error { return nil }
func (p *fakePort) Broadcast(d ddp.Datagram) error {
	p.broadcastCalls = append(p.broadcastCalls, d)
	return nil
}
func (p *fakePort) Multicast(zoneName string, d ddp.Datagram) error {
	p.multicastCalls = append(p.multicastCalls, multicastCall{zoneName, d})
	return nil
}
func (p *fakePort) MulticastAddress(string) []byte        { return nil }
func (p *fakePort) SetNetworkRange(min, max uint16) error { p.networkMin, p.networkMax = min, max; return nil }
func (p *fakePort) RangeSet() bool                        { return p.networkMax != 0 }
func (p *fakePort) ID() uint64                            { return port.IDFromLabel(p.label) }
func (p *fakePort) String() string                        { return p.label }

var _ port.Port = (*fakePort)(nil)

type noopRouter struct {
	routed []ddp.Datagram
}

func (r *noopRouter) Route(d ddp.Datagram, originating bool) error {
	r.routed = append(r.routed, d)
	return nil
}

func brRqBody(t *testing.T, zoneName string) []byte {
	t.Helper()
	return encodeNBP(FuncBrRq, 7, tuple{object: "=", typ: "=", zone: zoneName})
}

func newService(t *testing.T, rt RoutingTable, zit ZoneTable, router Router) *Service {
	t.Helper()
	s, err := New(rt, zit, router, nil, logger.New("error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// TestBrRqWildcardResolvesUnambiguousZone exercises the "*" substitution on
// a non-extended port whose range carries exactly one zone.
func TestBrRqWildcardResolvesUnambiguousZone(t *testing.T) {
	rt := rtable.New(nil)
	direct := &fakePort{label: "direct", network: 10, node: 1}
	rt.Consider(rtable.Entry{NetworkMin: 10, NetworkMax: 10, Distance: 0, Port: direct})
	zit := zone.New()
	max := uint16(10)
	_ = zit.AddNetworksToZone("Engineering", 10, &max)

	rxPort := &fakePort{label: "rx", networkMin: 10, networkMax: 10, extended: false}
	s := newService(t, rt, zit, &noopRouter{})

	s.Deliver(ddp.Datagram{DDPType: DDPType, Data: brRqBody(t, "*")}, rxPort)

	if len(direct.multicastCalls) != 1 {
		t.Fatalf("expected one LkUp multicast to the directly connected entry, got %d", len(direct.multicastCalls))
	}
	if direct.multicastCalls[0].zone != "Engineering" {
		t.Fatalf("expected the wildcard to resolve to Engineering, got %q", direct.multicastCalls[0].zone)
	}
}

// TestBrRqWildcardAmbiguousBroadcasts covers the fallback when a
// non-extended port's range carries more than one zone.
func TestBrRqWildcardAmbiguousBroadcasts(t *testing.T) {
	rt := rtable.New(nil)
	zit := zone.New()
	max := uint16(10)
	_ = zit.AddNetworksToZone("Engineering", 10, &max)
	_ = zit.AddNetworksToZone("Marketing", 10, &max)

	rxPort := &fakePort{label: "rx", networkMin: 10, networkMax: 10, extended: false}
	s := newService(t, rt, zit, &noopRouter{})

	s.Deliver(ddp.Datagram{DDPType: DDPType, Data: brRqBody(t, "*")}, rxPort)

	if len(rxPort.broadcastCalls) != 1 {
		t.Fatalf("expected one LkUp broadcast on the ambiguous port, got %d", len(rxPort.broadcastCalls))
	}
}

// TestBrRqResolvedZoneMulticastsDirectEntry is the distance==0 half of
// BrRq-with-resolved-zone handling.
func TestBrRqResolvedZoneMulticastsDirectEntry(t *testing.T) {
	rt := rtable.New(nil)
	direct := &fakePort{label: "direct", network: 20, node: 2}
	rt.Consider(rtable.Entry{NetworkMin: 20, NetworkMax: 20, Distance: 0, Port: direct})
	zit := zone.New()
	max := uint16(20)
	_ = zit.AddNetworksToZone("Sales", 20, &max)

	rxPort := &fakePort{label: "rx", networkMin: 99, networkMax: 99, extended: true}
	s := newService(t, rt, zit, &noopRouter{})

	s.Deliver(ddp.Datagram{DDPType: DDPType, Data: brRqBody(t, "Sales")}, rxPort)

	if len(direct.multicastCalls) != 1 {
		t.Fatalf("expected a LkUp multicast on the directly connected port, got %d", len(direct.multicastCalls))
	}
	if direct.multicastCalls[0].d.Data[0]>>4 != FuncLkUp {
		t.Fatal("expected the rewritten datagram to carry the LkUp function code")
	}
}

// TestBrRqResolvedZoneRoutesIndirectEntry is the distance>0 half: it should
// be rewritten to FwdReq and routed toward the range's network_min.
func TestBrRqResolvedZoneRoutesIndirectEntry(t *testing.T) {
	rt := rtable.New(nil)
	viaPort := &fakePort{label: "via"}
	rt.Consider(rtable.Entry{NetworkMin: 30, NetworkMax: 30, Distance: 2, Port: viaPort, NextNetwork: 40, NextNode: 5})
	zit := zone.New()
	max := uint16(30)
	_ = zit.AddNetworksToZone("Sales", 30, &max)

	rxPort := &fakePort{label: "rx", networkMin: 99, networkMax: 99, extended: true}
	router := &noopRouter{}
	s := newService(t, rt, zit, router)

	s.Deliver(ddp.Datagram{DDPType: DDPType, Data: brRqBody(t, "Sales")}, rxPort)

	if len(router.routed) != 1 {
		t.Fatalf("expected one FwdReq routed toward the entry's network_min, got %d", len(router.routed))
	}
	routed := router.routed[0]
	if routed.DestinationNetwork != 30 || routed.DestinationNode != 0 {
		t.Fatalf("expected FwdReq addressed to network 30 node 0 (any router), got %d/%d", routed.DestinationNetwork, routed.DestinationNode)
	}
	if routed.Data[0]>>4 != FuncFwdReq {
		t.Fatal("expected the rewritten datagram to carry the FwdReq function code")
	}
}

func TestFwdReqMulticastsOnDirectlyConnectedNetwork(t *testing.T) {
	rt := rtable.New(nil)
	direct := &fakePort{label: "direct", network: 40, node: 3}
	rt.Consider(rtable.Entry{NetworkMin: 40, NetworkMax: 40, Distance: 0, Port: direct})
	zit := zone.New()
	s := newService(t, rt, zit, &noopRouter{})

	fwdBody := encodeNBP(FuncFwdReq, 9, tuple{object: "=", typ: "=", zone: "Sales"})
	s.Deliver(ddp.Datagram{DDPType: DDPType, DestinationNetwork: 40, Data: fwdBody}, direct)

	if len(direct.multicastCalls) != 1 {
		t.Fatalf("expected a LkUp multicast for the directly connected FwdReq target, got %d", len(direct.multicastCalls))
	}
}

func TestFwdReqDroppedWhenNotDirectlyConnected(t *testing.T) {
	rt := rtable.New(nil)
	viaPort := &fakePort{label: "via"}
	rt.Consider(rtable.Entry{NetworkMin: 50, NetworkMax: 50, Distance: 3, Port: viaPort, NextNetwork: 60, NextNode: 1})
	zit := zone.New()
	s := newService(t, rt, zit, &noopRouter{})

	fwdBody := encodeNBP(FuncFwdReq, 9, tuple{object: "=", typ: "=", zone: "Sales"})
	s.Deliver(ddp.Datagram{DDPType: DDPType, DestinationNetwork: 50, Data: fwdBody}, viaPort)

	if len(viaPort.multicastCalls) != 0 {
		t.Fatal("expected no multicast when the destination network isn't directly connected")
	}
}
