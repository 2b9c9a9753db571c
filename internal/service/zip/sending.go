package zip

import (
	"fmt"
	"time"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/service"
	"github.com/wesleywu/atalk-router/internal/service/fanout"
)

// maxQueryNetworks bounds how many network numbers one Query datagram
// carries: the func+count header plus count*2 bytes of networks must fit
// within MaxDataLength, and count itself is a single byte.
const maxQueryNetworks = 255

// queryGroup batches the network_mins this router doesn't yet have zones
// for, bound for a single next hop.
type queryGroup struct {
	p           port.Port
	nextNetwork uint16
	nextNode    uint8
	mins        []uint16
}

// Sending implements the ZIP sending service from spec.md §4.7.I: every
// T_ZIP it finds every routing-table range with no known zones, batches
// them by destination, and queries the responsible neighbor for their
// zones.
type Sending struct {
	rt      RoutingTable
	zit     ZoneTable
	metrics *metrics.Counters
	log     *logger.Logger

	pool   *fanout.Pool
	ticker *service.Ticker
}

// NewSending returns a ZIP sending service. interval is T_ZIP.
func NewSending(rt RoutingTable, zit ZoneTable, interval time.Duration, m *metrics.Counters, log *logger.Logger) (*Sending, error) {
	pool, err := fanout.New(8)
	if err != nil {
		return nil, err
	}
	s := &Sending{
		rt:      rt,
		zit:     zit,
		metrics: m,
		log:     log.WithComponent("zip-sending"),
		pool:    pool,
	}
	s.ticker = service.NewTicker(interval, s.sendAll)
	return s, nil
}

// Start begins the periodic query loop.
func (s *Sending) Start() error {
	s.ticker.Start()
	return nil
}

// Stop halts the periodic query loop and releases its worker pool.
func (s *Sending) Stop() error {
	s.ticker.Stop()
	s.pool.Release()
	return nil
}

// ForceSend triggers an immediate query cycle outside the normal timer.
func (s *Sending) ForceSend() {
	s.ticker.Force()
}

func (s *Sending) sendAll() {
	entries := s.rt.Entries()
	if len(entries) == 0 {
		return
	}

	candidates := make([]uint16, 0, len(entries))
	byMin := make(map[uint16]rtable.Snapshot, len(entries))
	for _, snap := range entries {
		candidates = append(candidates, snap.Entry.NetworkMin)
		byMin[snap.Entry.NetworkMin] = snap
	}

	unknown := s.zit.NetworksNotKnown(candidates)
	if len(unknown) == 0 {
		return
	}

	groups := make(map[string]*queryGroup)
	var order []string
	for _, min := range unknown {
		snap, ok := byMin[min]
		if !ok || snap.Entry.Port == nil {
			continue
		}
		e := snap.Entry
		nextNetwork, nextNode := e.NextNetwork, e.NextNode
		if e.Distance == 0 {
			nextNetwork, nextNode = 0, 0xFF
		}
		key := fmt.Sprintf("%d|%d|%d", e.Port.ID(), nextNetwork, nextNode)
		g, exists := groups[key]
		if !exists {
			g = &queryGroup{p: e.Port, nextNetwork: nextNetwork, nextNode: nextNode}
			groups[key] = g
			order = append(order, key)
		}
		g.mins = append(g.mins, min)
	}

	tasks := make([]func(), 0, len(order))
	for _, key := range order {
		g := groups[key]
		tasks = append(tasks, func() { s.sendGroup(g) })
	}
	s.pool.Run(tasks)
	if s.metrics != nil {
		s.metrics.RecordZIPSend(time.Now())
	}
}

func (s *Sending) sendGroup(g *queryGroup) {
	for _, chunk := range chunkNetworks(g.mins) {
		body := encodeQuery(chunk)
		d := ddp.Datagram{
			HopCount:          0,
			DestinationNetwork: g.nextNetwork,
			SourceNetwork:     g.p.Network(),
			DestinationNode:   g.nextNode,
			SourceNode:        g.p.Node(),
			DestinationSocket: Socket,
			SourceSocket:      Socket,
			DDPType:           DDPTypeZIP,
			Data:              body,
		}
		var err error
		if g.nextNode == 0xFF {
			err = g.p.Broadcast(d)
		} else {
			err = g.p.Unicast(g.nextNetwork, g.nextNode, d)
		}
		if err != nil {
			s.log.Debug("ZIP query send failed", "error", err)
		}
	}
}

// chunkNetworks splits mins into groups that each fit within a single Query
// datagram body.
func chunkNetworks(mins []uint16) [][]uint16 {
	if len(mins) == 0 {
		return [][]uint16{nil}
	}
	var out [][]uint16
	for i := 0; i < len(mins); i += maxQueryNetworks {
		end := i + maxQueryNetworks
		if end > len(mins) {
			end = len(mins)
		}
		out = append(out, mins[i:end])
	}
	return out
}
