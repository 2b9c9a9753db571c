// Package virtual implements an in-memory Port driver and shared medium,
// used to build multi-router test topologies without real sockets. It is
// the closest thing to a link driver the routing core ships with itself.
package virtual

import (
	"sync"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/zone"
)

// Medium is a shared broadcast cable: every Port attached to the same
// Medium sees every other attached Port's broadcast and zone-multicast
// traffic, and can address the others by unicast network/node.
type Medium struct {
	mu    sync.RWMutex
	ports map[uint64]*Port
}

// NewMedium returns an empty shared cable.
func NewMedium() *Medium {
	return &Medium{ports: make(map[uint64]*Port)}
}

func (m *Medium) attach(p *Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ports[p.ID()] = p
}

func (m *Medium) detach(p *Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ports, p.ID())
}

func (m *Medium) snapshot() []*Port {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Port, 0, len(m.ports))
	for _, p := range m.ports {
		out = append(out, p)
	}
	return out
}

// Port is an in-memory Port attached to a Medium. Network/node are
// supplied at construction (there is no probing to simulate), mirroring a
// statically configured cable: non-extended when New is given equal
// networkMin/networkMax, extended when they differ.
type Port struct {
	*port.Base

	medium *Medium
	owner  port.Inbounder

	zoneAddrs map[string]string // zone name -> synthetic multicast address

	mu      sync.Mutex
	stopped bool
}

// New returns a Port with the given label (used for logging/ID), attached
// to medium, with network/node already acquired and network range already
// known (min==max==network for a non-extended cable; pass differing min/max
// for an extended one).
func New(label string, medium *Medium, network uint16, node uint8, networkMin, networkMax uint16) *Port {
	base := port.NewBase(label, networkMin != networkMax)
	_ = base.SetNetworkRange(networkMin, networkMax)
	base.SetAcquired(network, node)
	return &Port{
		Base:      base,
		medium:    medium,
		zoneAddrs: make(map[string]string),
	}
}

// Start attaches this Port to its Medium and records owner as the callback
// for inbound delivery.
func (p *Port) Start(owner port.Inbounder) error {
	p.mu.Lock()
	p.owner = owner
	p.stopped = false
	p.mu.Unlock()
	p.medium.attach(p)
	return nil
}

// Stop detaches this Port from its Medium. Idempotent.
func (p *Port) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()
	p.medium.detach(p)
	return nil
}

func (p *Port) deliverSelf(d ddp.Datagram) {
	p.mu.Lock()
	owner := p.owner
	stopped := p.stopped
	p.mu.Unlock()
	if !stopped && owner != nil {
		owner.Inbound(d, p)
	}
}

// Unicast delivers d to whichever attached Port on the medium reports the
// given network/node, if any.
func (p *Port) Unicast(network uint16, node uint8, d ddp.Datagram) error {
	for _, other := range p.medium.snapshot() {
		if other.Network() == network && other.Node() == node {
			other.deliverSelf(d)
			return nil
		}
	}
	return nil
}

// Broadcast rewrites d's destination to the cable broadcast address if
// needed and delivers it to every other attached Port.
func (p *Port) Broadcast(d ddp.Datagram) error {
	bd := d.Copy(ddp.WithDestinationNetwork(0), ddp.WithDestinationNode(0xFF))
	for _, other := range p.medium.snapshot() {
		if other.ID() == p.ID() {
			continue
		}
		other.deliverSelf(bd)
	}
	return nil
}

// Multicast delivers d to every other attached Port; the in-memory medium
// has no native multicast group concept, so zone scoping is not enforced
// — every attached Port simply receives it, same as Broadcast. (The
// LocalTalk-like udpmcast driver's Multicast, by contrast, sends nothing.)
func (p *Port) Multicast(zoneName string, d ddp.Datagram) error {
	return p.Broadcast(d)
}

// MulticastAddress returns a synthetic ELAP-shaped multicast address
// derived from zoneName, so tests exercising ZIP GetNetInfo (spec.md
// §4.7) see a non-empty address for an extended (Ethernet-like) virtual
// Port and can assert on ZONE_INVALID / USE_BROADCAST behavior without a
// real link driver.
func (p *Port) MulticastAddress(zoneName string) []byte {
	if !p.ExtendedNetwork() {
		return nil
	}
	p.mu.Lock()
	addr, ok := p.zoneAddrs[zoneName]
	if !ok {
		addr = string([]byte{0x09, 0x00, 0x07, 0x00, 0x00, checksumMod(zoneName, 253)})
		p.zoneAddrs[zoneName] = addr
	}
	p.mu.Unlock()
	return []byte(addr)
}

// checksumMod folds zoneName under the AppleTalk case table (spec.md §6)
// and runs the rotate-and-add checksum over it, reduced mod m, matching
// the real link drivers' multicast address derivation byte for byte.
func checksumMod(zoneName string, m int) byte {
	folded := zone.Fold(zoneName)
	var acc uint32
	for i := 0; i < len(folded); i++ {
		acc = (acc + uint32(folded[i])) & 0xFFFF
		acc = ((acc << 1) | (acc >> 15)) & 0xFFFF
	}
	return byte(int(acc) % m)
}

var _ port.Port = (*Port)(nil)
