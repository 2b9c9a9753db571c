package nbp

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/service/fanout"
	"github.com/wesleywu/atalk-router/internal/zone"
)

// RoutingTable is the subset of *rtable.Table the NBP service reads.
type RoutingTable interface {
	GetByNetwork(n uint16) (entry rtable.Entry, isBad bool, found bool)
	Entries() []rtable.Snapshot
}

// ZoneTable is the subset of *zone.Table the NBP service reads.
type ZoneTable interface {
	ZonesInNetworkRange(min uint16, max *uint16) []string
}

// Router is the subset of *router.Router the NBP service routes FwdReq
// datagrams through.
type Router interface {
	Route(d ddp.Datagram, originating bool) error
}

// Service implements the NBP routing behavior from spec.md §4.8: it never
// answers a lookup itself, only rewrites and relays BrRq/FwdReq toward the
// zone or network they name.
type Service struct {
	rt      RoutingTable
	zit     ZoneTable
	router  Router
	metrics *metrics.Counters
	log     *logger.Logger
	pool    *fanout.Pool
}

// New returns an NBP routing service.
func New(rt RoutingTable, zit ZoneTable, router Router, m *metrics.Counters, log *logger.Logger) (*Service, error) {
	pool, err := fanout.New(8)
	if err != nil {
		return nil, err
	}
	return &Service{rt: rt, zit: zit, router: router, metrics: m, log: log.WithComponent("nbp"), pool: pool}, nil
}

// Start is a no-op: the service has no periodic work of its own, only a
// worker pool that's already live once New returns. It exists so Service
// satisfies router.Lifecycle alongside the periodic services.
func (s *Service) Start() error {
	return nil
}

// Stop releases the service's worker pool.
func (s *Service) Stop() error {
	s.pool.Release()
	return nil
}

// Deliver implements router.Deliverer, dispatching on the NBP function
// code carried in the body.
func (s *Service) Deliver(d ddp.Datagram, rxPort port.Port) {
	funcCode, nbpID, tup, err := parseNBP(d.Data)
	if err != nil {
		s.log.Debug("malformed NBP datagram", "error", err)
		return
	}
	switch funcCode {
	case FuncBrRq:
		s.handleBrRq(rxPort, nbpID, tup)
	case FuncFwdReq:
		s.handleFwdReq(d, nbpID, tup)
	}
}

// handleBrRq resolves a wildcard zone on a non-extended port, then fans the
// lookup out to every routing-table entry whose range carries the zone.
func (s *Service) handleBrRq(rxPort port.Port, nbpID uint8, tup tuple) {
	zoneName := tup.zone
	if zoneName == wildcardZone && !rxPort.ExtendedNetwork() {
		max := rxPort.NetworkMax()
		zones := s.zit.ZonesInNetworkRange(rxPort.NetworkMin(), &max)
		if len(zones) == 1 {
			zoneName = zones[0]
		} else {
			s.broadcastLkUp(rxPort, nbpID, tup)
			return
		}
	}
	s.fanOutToZone(zoneName, nbpID, tup)
}

// broadcastLkUp rewrites a BrRq as LkUp and floods it on the receiving
// port, used when a non-extended port's range carries no single
// unambiguous zone to resolve "*" against.
func (s *Service) broadcastLkUp(rxPort port.Port, nbpID uint8, tup tuple) {
	lk := ddp.Datagram{
		SourceNetwork:      rxPort.Network(),
		SourceNode:         rxPort.Node(),
		DestinationNetwork: 0,
		DestinationNode:    0xFF,
		DestinationSocket:  Socket,
		SourceSocket:       Socket,
		DDPType:            DDPType,
		Data:               encodeNBP(FuncLkUp, nbpID, tup),
	}
	if err := rxPort.Broadcast(lk); err != nil {
		s.log.Debug("NBP LkUp broadcast failed", "error", err)
	}
}

// fanOutToZone concurrently resolves a BrRq against every routing-table
// entry whose range carries zoneName, per spec.md §4.8.
func (s *Service) fanOutToZone(zoneName string, nbpID uint8, tup tuple) {
	entries := s.rt.Entries()
	tasks := make([]func(), 0, len(entries))
	for _, snap := range entries {
		e := snap.Entry
		max := e.NetworkMax
		zones := s.zit.ZonesInNetworkRange(e.NetworkMin, &max)
		if !containsFold(zones, zoneName) {
			continue
		}
		tasks = append(tasks, func() { s.forwardToEntry(e, zoneName, nbpID, tup) })
	}
	s.pool.Run(tasks)
}

func (s *Service) forwardToEntry(e rtable.Entry, zoneName string, nbpID uint8, tup tuple) {
	if e.Distance == 0 {
		lk := ddp.Datagram{
			SourceNetwork:      e.Port.Network(),
			SourceNode:         e.Port.Node(),
			DestinationNetwork: 0,
			DestinationNode:    0xFF,
			DestinationSocket:  Socket,
			SourceSocket:       Socket,
			DDPType:            DDPType,
			Data:               encodeNBP(FuncLkUp, nbpID, tup),
		}
		if err := e.Port.Multicast(zoneName, lk); err != nil {
			s.log.Debug("NBP LkUp multicast failed", "error", err)
		}
		return
	}

	fwd := ddp.Datagram{
		HopCount:           0,
		DestinationNetwork: e.NetworkMin,
		DestinationNode:    0,
		DestinationSocket:  Socket,
		SourceSocket:       Socket,
		DDPType:            DDPType,
		Data:               encodeNBP(FuncFwdReq, nbpID, tup),
	}
	if err := s.router.Route(fwd, true); err != nil {
		s.log.Debug("NBP FwdReq route failed", "error", err)
	}
}

// handleFwdReq answers a forwarded request by multicasting a LkUp on the
// directly connected port for the destination network it names, or drops
// it if that network isn't directly connected to this router. A wildcard
// zone on a FwdReq has no defined resolution (spec.md's open questions) and
// is dropped rather than guessed at.
func (s *Service) handleFwdReq(d ddp.Datagram, nbpID uint8, tup tuple) {
	if tup.zone == wildcardZone {
		return
	}
	entry, _, found := s.rt.GetByNetwork(d.DestinationNetwork)
	if !found || entry.Distance != 0 {
		return
	}
	lk := ddp.Datagram{
		SourceNetwork:      entry.Port.Network(),
		SourceNode:         entry.Port.Node(),
		DestinationNetwork: 0,
		DestinationNode:    0xFF,
		DestinationSocket:  Socket,
		SourceSocket:       Socket,
		DDPType:            DDPType,
		Data:               encodeNBP(FuncLkUp, nbpID, tup),
	}
	if err := entry.Port.Multicast(tup.zone, lk); err != nil {
		s.log.Debug("NBP FwdReq LkUp multicast failed", "error", err)
	}
}

func containsFold(zones []string, name string) bool {
	folded := zone.Fold(name)
	for _, z := range zones {
		if zone.Fold(z) == folded {
			return true
		}
	}
	return false
}
