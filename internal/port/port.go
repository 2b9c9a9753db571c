// Package port defines the abstract link contract the routing core dispatches
// through: the Port interface every link driver implements, and the
// Inbounder callback interface a driver uses to hand received datagrams back
// to the router that owns it.
package port

import (
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/wesleywu/atalk-router/internal/ddp"
)

// ErrRangeAlreadySet is returned by SetNetworkRange when a Port's range has
// already been established; the caller logs and ignores it per spec.md §7.
var ErrRangeAlreadySet = errors.New("port: network range already set")

// Inbounder is the callback surface a Port uses to hand an arriving
// datagram to its owning router. Defined here, not in the router package,
// so that port has no import-time dependency on router — router depends on
// port, never the reverse.
type Inbounder interface {
	Inbound(d ddp.Datagram, rxPort Port)
}

// Port is the contract every link driver implements: Ethernet-like
// broadcast cables, LocalTalk-like point-to-multipoint cables, and the
// in-memory test harness all satisfy this interface. The routing core never
// downcasts a Port to a concrete driver type.
type Port interface {
	// Network is the node-local network number acquired for this cable, or
	// 0 before acquisition.
	Network() uint16
	// Node is the node address acquired on this cable, 1..254, or 0 before
	// acquisition.
	Node() uint8
	// NetworkMin and NetworkMax describe the cable's range; equal for a
	// non-extended cable.
	NetworkMin() uint16
	NetworkMax() uint16
	ExtendedNetwork() bool

	// Start begins the Port's acquisition and receive loop, registering
	// router as the Inbounder to call back into.
	Start(router Inbounder) error
	// Stop is idempotent and must return once any internal goroutines have
	// joined.
	Stop() error

	Unicast(network uint16, node uint8, d ddp.Datagram) error
	Broadcast(d ddp.Datagram) error
	Multicast(zoneName string, d ddp.Datagram) error

	// MulticastAddress returns the link-layer multicast address this Port
	// would send to for zoneName, or nil if the cable has no zone-scoped
	// multicast concept (e.g. LocalTalk). ZIP GetNetInfo (spec.md §4.7)
	// reports this address to clients and falls back to USE_BROADCAST
	// when it's empty.
	MulticastAddress(zoneName string) []byte

	// SetNetworkRange is called once by the RTMP responding service after
	// learning a range from the first tuple heard on a rangeless port. It
	// is an error to call this when a range is already set.
	SetNetworkRange(min, max uint16) error
	// RangeSet reports whether SetNetworkRange has ever succeeded, either
	// from driver-time acquisition or from a later RTMP-learned range.
	RangeSet() bool

	// ID is a stable, logging-safe identity for this Port, independent of
	// its in-memory address. RoutingTableEntry carries a Port by this
	// interface value, never by a raw pointer compared for identity in logs.
	ID() uint64
	String() string
}

// IDFromLabel hashes a driver-assigned label (an interface name, a
// configured cable ID) into the stable uint64 identity a Port reports via
// ID(). Using a hash instead of an incrementing counter means the ID is
// reproducible across restarts for the same configuration, which is useful
// when correlating log lines from one run to the next.
func IDFromLabel(label string) uint64 {
	return xxhash.Sum64String(label)
}
