package rtmp

import (
	"time"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/service"
	"github.com/wesleywu/atalk-router/internal/service/fanout"
)

// Build renders the routing table entries as a sequence of RTMP data
// datagrams for broadcast on p, per spec.md §4.6's builder. Returns nil if
// p's range isn't known yet.
func Build(p port.Port, entries []rtable.Snapshot, splitHorizon bool) []ddp.Datagram {
	if p.NetworkMin() == 0 || p.NetworkMax() == 0 {
		return nil
	}

	header := encodeHeader(p.Network(), p.Node(), p.NetworkMin(), p.NetworkMax(), p.ExtendedNetwork())

	var bodies [][]byte
	cur := make([]byte, 0, ddp.MaxDataLength)
	flush := func() {
		if len(cur) > 0 {
			bodies = append(bodies, cur)
			cur = make([]byte, 0, ddp.MaxDataLength)
		}
	}

	for _, snap := range entries {
		e := snap.Entry
		if samePort(e.Port, p) && e.Distance == 0 {
			continue // the port's own range; already in the header
		}
		if splitHorizon && samePort(e.Port, p) {
			continue
		}
		distance := e.Distance
		if snap.IsBad {
			distance = 31
		}
		t := encodeTuple(e.NetworkMin, e.NetworkMax, distance, p.ExtendedNetwork())
		if len(header)+len(cur)+len(t) > ddp.MaxDataLength {
			flush()
		}
		cur = append(cur, t...)
	}
	flush()

	if len(bodies) == 0 {
		// Still announce our own range even with nothing else to say.
		bodies = [][]byte{{}}
	}

	out := make([]ddp.Datagram, 0, len(bodies))
	for _, body := range bodies {
		data := make([]byte, 0, len(header)+len(body))
		data = append(data, header...)
		data = append(data, body...)
		out = append(out, ddp.Datagram{
			HopCount:           0,
			DestinationNetwork: 0,
			SourceNetwork:      p.Network(),
			DestinationNode:    0xFF,
			SourceNode:         p.Node(),
			DestinationSocket:  Socket,
			SourceSocket:       Socket,
			DDPType:            DDPTypeData,
			Data:               data,
		})
	}
	return out
}

func samePort(a, b port.Port) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}

// PortLister is the subset of *router.Router the sending service polls
// every tick.
type PortLister interface {
	Ports() []port.Port
}

// Sending implements the RTMP sending service from spec.md §4.6: every
// T_RTMP, and on demand via ForceSend, it builds and broadcasts the
// routing table out every Port that has acquired an address.
type Sending struct {
	router       PortLister
	rt           RoutingTable
	splitHorizon bool
	metrics      *metrics.Counters
	log          *logger.Logger

	pool   *fanout.Pool
	ticker *service.Ticker
}

// NewSending returns an RTMP sending service. interval is T_RTMP;
// splitHorizon selects the RDR variant this router always advertises
// with.
func NewSending(router PortLister, rt RoutingTable, interval time.Duration, splitHorizon bool, m *metrics.Counters, log *logger.Logger) (*Sending, error) {
	pool, err := fanout.New(8)
	if err != nil {
		return nil, err
	}
	s := &Sending{
		router:       router,
		rt:           rt,
		splitHorizon: splitHorizon,
		metrics:      m,
		log:          log.WithComponent("rtmp-sending"),
		pool:         pool,
	}
	s.ticker = service.NewTicker(interval, s.sendAll)
	return s, nil
}

// Start begins the periodic send loop.
func (s *Sending) Start() error {
	s.ticker.Start()
	return nil
}

// Stop halts the periodic send loop and releases its worker pool.
func (s *Sending) Stop() error {
	s.ticker.Stop()
	s.pool.Release()
	return nil
}

// ForceSend triggers an immediate broadcast cycle outside the normal
// timer, grounded on the original's rtmp/sending.py force_send().
func (s *Sending) ForceSend() {
	s.ticker.Force()
}

func (s *Sending) sendAll() {
	ports := s.router.Ports()
	entries := s.rt.Entries()

	tasks := make([]func(), 0, len(ports))
	for _, p := range ports {
		p := p
		if p.Network() == 0 || p.Node() == 0 {
			continue
		}
		tasks = append(tasks, func() {
			for _, d := range Build(p, entries, s.splitHorizon) {
				if err := p.Broadcast(d); err != nil {
					s.log.Debug("RTMP broadcast failed", "port", p.String(), "error", err)
				}
			}
		})
	}
	s.pool.Run(tasks)
	if s.metrics != nil {
		s.metrics.RecordRTMPSend(time.Now())
	}
}
