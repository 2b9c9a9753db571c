package router

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/port"
)

// Inbound is called by a Port for every datagram it receives addressed to
// this node, its cable's broadcast address, its cable's zone multicast
// address, or any-router. It implements the normalization and local
// delivery decision from spec.md §4.1.
func (r *Router) Inbound(d ddp.Datagram, rxPort port.Port) {
	d = r.normalize(d, rxPort)

	if (d.DestinationNetwork == 0 || d.DestinationNetwork == rxPort.Network()) &&
		(d.DestinationNode == 0 || d.DestinationNode == rxPort.Node() || d.DestinationNode == 0xFF) {
		r.deliver(d, rxPort)
		return
	}

	entry, _, found := r.RT.GetByNetwork(d.DestinationNetwork)
	if found && entry.Distance == 0 {
		switch {
		case d.DestinationNetwork == entry.Port.Network() && d.DestinationNode == entry.Port.Node():
			r.deliver(d, rxPort)
			return
		case d.DestinationNode == 0x00:
			r.deliver(d, rxPort)
			return
		case d.DestinationNode == 0xFF:
			r.deliver(d, rxPort)
			_ = r.Route(d, false)
			return
		}
	}

	_ = r.Route(d, false)
}

// normalize substitutes rx_port's network for any zero network field,
// independently for source and destination.
func (r *Router) normalize(d ddp.Datagram, rxPort port.Port) ddp.Datagram {
	if rxPort.Network() == 0 {
		return d
	}
	if d.DestinationNetwork == 0 {
		d = d.Copy(ddp.WithDestinationNetwork(rxPort.Network()))
	}
	if d.SourceNetwork == 0 {
		d = d.Copy(ddp.WithSourceNetwork(rxPort.Network()))
	}
	return d
}

// deliver dispatches d to the service registered at its destination
// socket. A datagram addressed to an unregistered socket is silently
// dropped, per spec.md §7.
func (r *Router) deliver(d ddp.Datagram, rxPort port.Port) {
	r.mu.RLock()
	svc, ok := r.services[d.DestinationSocket]
	r.mu.RUnlock()
	if !ok {
		r.log.RouteDropped("no service registered on destination socket", int(d.DestinationNetwork), int(d.DestinationNode))
		r.Metrics.IncDropped()
		return
	}
	r.Metrics.IncDelivered()
	svc.Deliver(d, rxPort)
}

// Route forwards or locally emits a datagram per spec.md §4.1's routing
// rules. originating must be true only for datagrams this process built
// itself (RTMP/ZIP/Echo/NBP replies and broadcasts), never for inbound
// traffic being forwarded.
func (r *Router) Route(d ddp.Datagram, originating bool) error {
	if originating {
		if d.HopCount != 0 || d.DestinationNetwork == 0 {
			return ErrInvalidOriginatedDatagram
		}
	}
	if d.DestinationNetwork == 0 {
		r.log.RouteDropped("zero destination network", int(d.DestinationNetwork), int(d.DestinationNode))
		r.Metrics.IncDropped()
		return nil
	}

	entry, _, found := r.RT.GetByNetwork(d.DestinationNetwork)
	if !found {
		r.log.RouteDropped("no route", int(d.DestinationNetwork), int(d.DestinationNode))
		r.Metrics.IncDropped()
		return nil
	}
	if originating && (entry.Port.Network() == 0 || entry.Port.Node() == 0) {
		r.log.RouteDropped("originating port has no address yet", int(d.DestinationNetwork), int(d.DestinationNode))
		r.Metrics.IncDropped()
		return nil
	}
	if originating {
		d = d.Copy(ddp.WithSourceNetwork(entry.Port.Network()), ddp.WithSourceNode(entry.Port.Node()))
	}

	if entry.Distance != 0 {
		if d.HopCount >= 15 {
			r.log.RouteDropped("hop count exhausted", int(d.DestinationNetwork), int(d.DestinationNode))
			r.Metrics.IncDropped()
			return nil
		}
		r.Metrics.IncRouted()
		return entry.Port.Unicast(entry.NextNetwork, entry.NextNode, d.Hop())
	}

	switch {
	case d.DestinationNode == 0x00:
		return nil
	case d.DestinationNetwork == entry.Port.Network() && d.DestinationNode == entry.Port.Node():
		return nil
	case d.DestinationNode == 0xFF:
		r.Metrics.IncRouted()
		return entry.Port.Broadcast(d)
	default:
		r.Metrics.IncRouted()
		return entry.Port.Unicast(d.DestinationNetwork, d.DestinationNode, d)
	}
}

// Reply builds and sends a response to an inbound datagram d, received on
// rxPort, carrying ddpType and data as its payload. See spec.md §4.1 for
// the direct-send vs routed-send decision.
func (r *Router) Reply(d ddp.Datagram, rxPort port.Port, ddpType uint8, data []byte) error {
	if d.SourceNode == 0 || d.SourceNode == 0xFF {
		return nil
	}

	inStartupRange := d.SourceNetwork >= 0xFF00 && d.SourceNetwork <= 0xFFFE
	outsideRxRange := d.SourceNetwork < rxPort.NetworkMin() || d.SourceNetwork > rxPort.NetworkMax()
	isStaleGetNetInfoClient := d.DDPType == 6 && d.DestinationNode == 0xFF && outsideRxRange

	directSend := rxPort.Node() != 0 && (d.SourceNetwork == 0 || inStartupRange || isStaleGetNetInfoClient)

	if directSend {
		reply := ddp.Datagram{
			HopCount:           0,
			DestinationNetwork: d.SourceNetwork,
			SourceNetwork:      rxPort.Network(),
			DestinationNode:    d.SourceNode,
			SourceNode:         rxPort.Node(),
			DestinationSocket:  d.SourceSocket,
			SourceSocket:       d.DestinationSocket,
			DDPType:            ddpType,
			Data:               data,
		}
		return rxPort.Unicast(d.SourceNetwork, d.SourceNode, reply)
	}

	reply := ddp.Datagram{
		HopCount:           0,
		DestinationNetwork: d.SourceNetwork,
		SourceNetwork:      0,
		DestinationNode:    d.SourceNode,
		SourceNode:         0,
		DestinationSocket:  d.SourceSocket,
		SourceSocket:       d.DestinationSocket,
		DDPType:            ddpType,
		Data:               data,
	}
	return r.Route(reply, true)
}
