// Package router implements the routing core's dispatch: inbound
// classification, forward-vs-deliver decisions, and reply construction,
// described in spec.md §4.1.
package router

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/rtable"
	"github.com/wesleywu/atalk-router/internal/zone"
)

// ErrInvalidOriginatedDatagram is raised by Route when a datagram this
// process originated itself violates the invariants an originated
// datagram must satisfy (hop count zero, destination network set). Per
// spec.md §7 this is a programming error and propagates rather than being
// silently dropped.
var ErrInvalidOriginatedDatagram = errors.New("router: invalid originated datagram")

// Deliverer receives datagrams addressed to a socket this router hosts a
// service on — RTMP, ZIP, Echo, NBP, and so on.
type Deliverer interface {
	Deliver(d ddp.Datagram, rxPort port.Port)
}

// Lifecycle is the Start/Stop contract a long-running service satisfies so
// the Router can sequence its own startup and shutdown around them.
type Lifecycle interface {
	Start() error
	Stop() error
}

// Router owns a set of Ports, the Routing Table, the Zone Information
// Table, and the sockets that dispatch to locally hosted services. It is
// the only mutable shared state in the process; nothing else in the
// router is a package-level global (spec.md §9).
type Router struct {
	label string
	log   *logger.Logger

	RT      *rtable.Table
	ZIT     *zone.Table
	Metrics *metrics.Counters

	mu       sync.RWMutex
	ports    map[uint64]port.Port
	services map[uint8]Deliverer

	lifecycleMu sync.Mutex
	lifecycles  []Lifecycle
}

// New returns a Router identified by label (used for logging and
// String()), backed by a fresh Routing Table and Zone Information Table
// wired to each other per spec.md §3's ZIT-removal-on-RT-aging lifecycle.
func New(label string, log *logger.Logger) *Router {
	zit := zone.New()
	return &Router{
		label:    label,
		log:      log.WithComponent("router"),
		RT:       rtable.New(zit),
		ZIT:      zit,
		Metrics:  metrics.New(),
		ports:    make(map[uint64]port.Port),
		services: make(map[uint8]Deliverer),
	}
}

// String returns this router's label, used to correlate log lines across
// multi-router test topologies.
func (r *Router) String() string {
	return r.label
}

// AddPort registers p with this router. Must be called before Start.
func (r *Router) AddPort(p port.Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.ID()] = p
}

// Ports returns a snapshot of every registered Port.
func (r *Router) Ports() []port.Port {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]port.Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	return out
}

// RegisterService binds a Deliverer to the given destination socket. Only
// one Deliverer may own a socket; a second registration replaces the
// first, which is only ever done in tests.
func (r *Router) RegisterService(socket uint8, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[socket] = d
}

// AddLifecycle registers a service whose Start/Stop the Router sequences
// around its Ports: Ports start first, so a service's first broadcast has
// somewhere to go; services stop first, so nothing sends through a Port
// that's already torn down.
func (r *Router) AddLifecycle(l Lifecycle) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	r.lifecycles = append(r.lifecycles, l)
}

// Start brings up every registered Port concurrently, then every
// registered service.
func (r *Router) Start() error {
	var g errgroup.Group
	for _, p := range r.Ports() {
		p := p
		g.Go(func() error { return p.Start(r) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range r.Ports() {
		if p.RangeSet() {
			r.RT.SetPortRange(p, p.NetworkMin(), p.NetworkMax())
		}
	}

	r.lifecycleMu.Lock()
	lifecycles := append([]Lifecycle(nil), r.lifecycles...)
	r.lifecycleMu.Unlock()
	for _, l := range lifecycles {
		if err := l.Start(); err != nil {
			return err
		}
	}
	r.log.ServiceStart(r.label)
	return nil
}

// Stop tears down every registered service first, then every Port,
// per spec.md §5's shutdown ordering.
func (r *Router) Stop() error {
	r.lifecycleMu.Lock()
	lifecycles := append([]Lifecycle(nil), r.lifecycles...)
	r.lifecycleMu.Unlock()
	for _, l := range lifecycles {
		if err := l.Stop(); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for _, p := range r.Ports() {
		p := p
		g.Go(func() error { return p.Stop() })
	}
	err := g.Wait()
	r.log.ServiceStop(r.label)
	return err
}

var _ port.Inbounder = (*Router)(nil)
