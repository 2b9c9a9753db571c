package rtmp

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
)

// RoutingTable is the subset of *rtable.Table the responding service
// mutates.
type RoutingTable interface {
	MarkBad(min, max uint16) bool
	Consider(e rtable.Entry) bool
	Entries() []rtable.Snapshot
	SetPortRange(p port.Port, min, max uint16)
}

// Router is the subset of *router.Router the responding service calls
// back into to emit replies.
type Router interface {
	Route(d ddp.Datagram, originating bool) error
}

// Responding implements the RTMP responding service from spec.md §4.5:
// it interprets inbound routing tuples into the Routing Table and answers
// RTMP Request/RDR datagrams.
type Responding struct {
	rt      RoutingTable
	router  Router
	metrics *metrics.Counters
	log     *logger.Logger
}

// NewResponding returns an RTMP responding service backed by rt, emitting
// replies through router.
func NewResponding(rt RoutingTable, router Router, m *metrics.Counters, log *logger.Logger) *Responding {
	return &Responding{rt: rt, router: router, metrics: m, log: log.WithComponent("rtmp-responding")}
}

// Deliver implements router.Deliverer, dispatching on d.DDPType.
func (s *Responding) Deliver(d ddp.Datagram, rxPort port.Port) {
	switch d.DDPType {
	case DDPTypeData:
		s.handleData(d, rxPort)
	case DDPTypeRequest:
		s.handleRequest(d, rxPort)
	}
}

func (s *Responding) handleData(d ddp.Datagram, rxPort port.Port) {
	h, tuples, err := parseData(d.Data, rxPort.ExtendedNetwork())
	if err != nil {
		s.log.Debug("malformed RTMP data datagram", "error", err)
		return
	}

	if rxPort.NetworkMin() == 0 && rxPort.NetworkMax() == 0 {
		if err := rxPort.SetNetworkRange(h.senderNetworkMin, h.senderNetworkMax); err != nil {
			s.log.Warn("set network range failed", "port", rxPort.String(), "error", err)
		} else {
			s.log.PortStateChanged(rxPort.String(), int(rxPort.Network()), int(rxPort.Node()))
			s.rt.SetPortRange(rxPort, h.senderNetworkMin, h.senderNetworkMax)
		}
	}

	for _, t := range tuples {
		if t.distance >= notifyNeighborDistance {
			s.rt.MarkBad(t.min, t.max)
			continue
		}
		accepted := s.rt.Consider(rtable.Entry{
			NetworkMin:  t.min,
			NetworkMax:  t.max,
			Distance:    t.distance + 1,
			Port:        rxPort,
			NextNetwork: h.senderNetwork,
			NextNode:    h.senderNode,
		})
		s.log.TupleConsidered(t.min, t.max, t.distance+1, accepted)
		if s.metrics != nil {
			s.metrics.RecordTuple(accepted)
		}
	}
}

func (s *Responding) handleRequest(d ddp.Datagram, rxPort port.Port) {
	if len(d.Data) == 0 {
		return
	}
	switch d.Data[0] {
	case FuncRequest:
		s.handleRequestFunc(d, rxPort)
	case FuncRDRSplitHorizon:
		s.handleRDR(d, rxPort, true)
	case FuncRDRNoSplitHorizon:
		s.handleRDR(d, rxPort, false)
	}
}

// handleRequestFunc answers an RTMP Request with just our own range,
// sent directly back to the requester on the same port it arrived on.
func (s *Responding) handleRequestFunc(d ddp.Datagram, rxPort port.Port) {
	if d.HopCount != 0 {
		return
	}
	if rxPort.NetworkMin() == 0 && rxPort.NetworkMax() == 0 {
		return
	}
	body := encodeHeader(rxPort.Network(), rxPort.Node(), rxPort.NetworkMin(), rxPort.NetworkMax(), rxPort.ExtendedNetwork())
	reply := ddp.Datagram{
		HopCount:           0,
		DestinationNetwork: d.SourceNetwork,
		SourceNetwork:      rxPort.Network(),
		DestinationNode:    d.SourceNode,
		SourceNode:         rxPort.Node(),
		DestinationSocket:  Socket,
		SourceSocket:       Socket,
		DDPType:            DDPTypeData,
		Data:               body,
	}
	if err := rxPort.Unicast(d.SourceNetwork, d.SourceNode, reply); err != nil {
		s.log.Debug("RTMP request reply failed", "error", err)
	}
}

// handleRDR answers an RTMP RDR request with the full routing table,
// built by Build and routed back to the requester one datagram at a time.
func (s *Responding) handleRDR(d ddp.Datagram, rxPort port.Port, splitHorizon bool) {
	datagrams := Build(rxPort, s.rt.Entries(), splitHorizon)
	for _, dg := range datagrams {
		dg = dg.Copy(
			ddp.WithDestinationNetwork(d.SourceNetwork),
			ddp.WithDestinationNode(d.SourceNode),
		)
		if err := s.router.Route(dg, true); err != nil {
			s.log.Debug("RTMP RDR reply failed", "error", err)
		}
	}
}
