package zip

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/zone"
)

// RoutingTable is the subset of *rtable.Table the ZIP services read.
type RoutingTable interface {
	GetByNetwork(n uint16) (entry rtable.Entry, isBad bool, found bool)
	Entries() []rtable.Snapshot
}

// ZoneTable is the subset of *zone.Table the ZIP services read and mutate.
type ZoneTable interface {
	AddNetworksToZone(zoneName string, min uint16, max *uint16) error
	ZonesInNetworkRange(min uint16, max *uint16) []string
	Zones() []string
	NetworksNotKnown(candidates []uint16) []uint16
}

// Replier is the subset of *router.Router the responding service calls back
// into to emit replies, matching router.Router.Reply's direct-vs-routed
// send decision.
type Replier interface {
	Reply(d ddp.Datagram, rxPort port.Port, ddpType uint8, data []byte) error
}

// Responding implements the ZIP responding service from spec.md §4.7: it
// ingests Reply/ExtReply zone announcements into the Zone Information
// Table, answers Query and GetNetInfo requests, and answers the
// ATP-carried GetMyZone/GetZoneList/GetLocalZones transactions.
type Responding struct {
	rt      RoutingTable
	zit     ZoneTable
	router  Replier
	metrics *metrics.Counters
	log     *logger.Logger

	extAcc map[uint16][]zonePair
}

// NewResponding returns a ZIP responding service backed by rt and zit,
// emitting replies through router.
func NewResponding(rt RoutingTable, zit ZoneTable, router Replier, m *metrics.Counters, log *logger.Logger) *Responding {
	return &Responding{
		rt:      rt,
		zit:     zit,
		router:  router,
		metrics: m,
		log:     log.WithComponent("zip-responding"),
		extAcc:  make(map[uint16][]zonePair),
	}
}

// Deliver implements router.Deliverer, dispatching on d.DDPType.
func (s *Responding) Deliver(d ddp.Datagram, rxPort port.Port) {
	switch d.DDPType {
	case DDPTypeZIP:
		s.handleZIP(d, rxPort)
	case DDPTypeATP:
		s.handleATP(d, rxPort)
	}
}

func (s *Responding) handleZIP(d ddp.Datagram, rxPort port.Port) {
	if len(d.Data) == 0 {
		return
	}
	switch d.Data[0] {
	case FuncQuery:
		s.handleQuery(d, rxPort)
	case FuncReply:
		s.handleReply(d)
	case FuncExtReply:
		s.handleExtReply(d)
	case FuncGetNetInfo:
		s.handleGetNetInfo(d, rxPort)
	}
}

// handleReply ingests a single-datagram Reply: every pair is flushed to the
// ZIT immediately, spec.md §4.7.
func (s *Responding) handleReply(d ddp.Datagram) {
	_, pairs, err := parseReplyPairs(d.Data[1:])
	if err != nil {
		s.log.Debug("malformed ZIP reply", "error", err)
		return
	}
	for _, p := range pairs {
		s.learnZone(p)
	}
}

// handleExtReply ingests one datagram of a possibly multi-datagram
// ExtReply, accumulating pairs per network_min until the accumulated count
// for that range reaches the count field carried on the latest datagram,
// then flushing, per spec.md §4.7.
func (s *Responding) handleExtReply(d ddp.Datagram) {
	count, pairs, err := parseReplyPairs(d.Data[1:])
	if err != nil {
		s.log.Debug("malformed ZIP ext reply", "error", err)
		return
	}
	for _, p := range pairs {
		s.extAcc[p.networkMin] = append(s.extAcc[p.networkMin], p)
	}
	for min, bucket := range s.extAcc {
		if len(bucket) < count {
			continue
		}
		for _, p := range bucket {
			s.learnZone(p)
		}
		delete(s.extAcc, min)
	}
}

// learnZone validates a (network_min, zone) pair against the routing table
// before adding it to the ZIT, discarding pairs for ranges we don't route.
func (s *Responding) learnZone(p zonePair) {
	entry, _, found := s.rt.GetByNetwork(p.networkMin)
	if !found || entry.NetworkMin != p.networkMin {
		s.log.Debug("discarding zone pair for unknown range", "network_min", p.networkMin, "zone", p.zone)
		return
	}
	max := entry.NetworkMax
	if err := s.zit.AddNetworksToZone(p.zone, p.networkMin, &max); err != nil {
		s.log.Debug("failed to add zone", "zone", p.zone, "network_min", p.networkMin, "error", err)
		return
	}
	s.log.ZoneLearned(p.zone, p.networkMin, max)
	if s.metrics != nil {
		s.metrics.RecordZoneLearned()
	}
}

// handleQuery answers a ZIP Query with one or more ExtReply datagrams per
// requested network, per spec.md §4.7.
func (s *Responding) handleQuery(d ddp.Datagram, rxPort port.Port) {
	networks, err := parseQuery(d.Data[1:])
	if err != nil {
		s.log.Debug("malformed ZIP query", "error", err)
		return
	}
	for _, n := range networks {
		entry, _, found := s.rt.GetByNetwork(n)
		if !found {
			continue
		}
		max := entry.NetworkMax
		zones := s.zit.ZonesInNetworkRange(entry.NetworkMin, &max)
		if len(zones) == 0 {
			continue
		}
		pairs := make([]zonePair, len(zones))
		for i, z := range zones {
			pairs[i] = zonePair{networkMin: entry.NetworkMin, zone: z}
		}
		total := len(pairs)
		for _, chunk := range chunkPairs(pairs) {
			body := encodeReplyPairs(FuncExtReply, total, chunk)
			if err := s.router.Reply(d, rxPort, DDPTypeZIP, body); err != nil {
				s.log.Debug("ZIP query reply failed", "error", err)
			}
		}
	}
}

// handleGetNetInfo answers a ZIP GetNetInfo request per spec.md §4.7's flag
// computation.
func (s *Responding) handleGetNetInfo(d ddp.Datagram, rxPort port.Port) {
	zoneName, err := parseGetNetInfoRequest(d.Data[1:])
	if err != nil {
		s.log.Debug("malformed GetNetInfo request", "error", err)
		return
	}

	max := rxPort.NetworkMax()
	zones := s.zit.ZonesInNetworkRange(rxPort.NetworkMin(), &max)
	if len(zones) == 0 {
		return
	}

	flags := FlagOnlyOneZone
	if len(zones) > 1 {
		flags &^= FlagOnlyOneZone
	}

	defaultZone := zones[0]
	matched := ""
	found := false
	for _, z := range zones {
		if zone.Fold(z) == zone.Fold(zoneName) {
			matched = z
			found = true
			break
		}
	}

	var multicastZone string
	if found {
		multicastZone = matched
	} else {
		flags |= FlagZoneInvalid
		multicastZone = defaultZone
	}

	mcast := rxPort.MulticastAddress(multicastZone)
	if len(mcast) == 0 {
		flags |= FlagUseBroadcast
	}

	reply := getNetInfoReply{
		flags:     flags,
		rangeMin:  rxPort.NetworkMin(),
		rangeMax:  rxPort.NetworkMax(),
		givenZone: zoneName,
		multicast: mcast,
	}
	if flags&FlagZoneInvalid != 0 {
		reply.defaultZone = defaultZone
	}

	if err := s.router.Reply(d, rxPort, DDPTypeZIP, reply.encode()); err != nil {
		s.log.Debug("GetNetInfo reply failed", "error", err)
	}
}

// handleATP answers the ATP-carried zone-list transactions, per spec.md
// §4.7.
func (s *Responding) handleATP(d ddp.Datagram, rxPort port.Port) {
	tid, funcCode, startIndex, err := parseATPRequest(d.Data)
	if err != nil {
		s.log.Debug("malformed ATP zone request", "error", err)
		return
	}

	var zones []string
	switch funcCode {
	case FuncGetMyZone:
		entry, _, found := s.rt.GetByNetwork(d.SourceNetwork)
		if !found {
			return
		}
		max := entry.NetworkMax
		all := s.zit.ZonesInNetworkRange(entry.NetworkMin, &max)
		if len(all) == 0 {
			return
		}
		zones = all[:1]
		startIndex = 1
	case FuncGetZoneList:
		zones = s.zit.Zones()
	case FuncGetLocalZones:
		max := rxPort.NetworkMax()
		zones = s.zit.ZonesInNetworkRange(rxPort.NetworkMin(), &max)
	default:
		return
	}

	body := encodeATPResponse(tid, zones, startIndex)
	if err := s.router.Reply(d, rxPort, DDPTypeATP, body); err != nil {
		s.log.Debug("ATP zone reply failed", "error", err)
	}
}

// chunkPairs splits pairs into groups that each fit within a single
// Reply/ExtReply datagram body (func + count header plus each pair's
// encoded size), never over MaxDataLength.
func chunkPairs(pairs []zonePair) [][]zonePair {
	const headerSize = 2
	var out [][]zonePair
	var cur []zonePair
	size := headerSize
	for _, p := range pairs {
		ps := pairSize(p)
		if size+ps > ddp.MaxDataLength && len(cur) > 0 {
			out = append(out, cur)
			cur = nil
			size = headerSize
		}
		cur = append(cur, p)
		size += ps
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	if len(out) == 0 {
		out = [][]zonePair{nil}
	}
	return out
}
