// Package daemon wires a *router.Router together with the Ports and
// services a config.Config describes, and runs it until a shutdown signal
// arrives, mirroring the teacher's internal/daemon.ServiceManager shape:
// NewServiceManager builds everything, Start brings it up, Wait blocks
// until a signal or an internal error, Stop tears it down in order.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wesleywu/atalk-router/internal/config"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/port/udpmcast"
	"github.com/wesleywu/atalk-router/internal/port/virtual"
	"github.com/wesleywu/atalk-router/internal/router"
	"github.com/wesleywu/atalk-router/internal/service"
	"github.com/wesleywu/atalk-router/internal/service/echo"
	"github.com/wesleywu/atalk-router/internal/service/nbp"
	"github.com/wesleywu/atalk-router/internal/service/rtage"
	"github.com/wesleywu/atalk-router/internal/service/rtmp"
	"github.com/wesleywu/atalk-router/internal/service/zip"
)

// inboundQueueDepth bounds each queued service's backlog of undelivered
// datagrams per spec.md §5's "bounded... message queues" before Deliver
// starts applying backpressure to the Port's receive goroutine.
const inboundQueueDepth = 256

// ServiceManager owns one Router, every Port and service it built from a
// config.Config, and the signal plumbing that turns SIGINT/SIGTERM into
// an orderly Stop.
type ServiceManager struct {
	config *config.Config
	log    *logger.Logger
	router *router.Router

	stopChan chan os.Signal

	mu        sync.Mutex
	isRunning bool
}

// NewServiceManager constructs a Router, every Port cfg.Ports describes,
// seeds the Zone Information Table from cfg.ZoneSeeds, and registers the
// RTMP/ZIP/NBP/Echo/ager services — but does not start anything yet.
func NewServiceManager(cfg *config.Config, log *logger.Logger) (*ServiceManager, error) {
	r := router.New("atalkrouterd", log)

	mediums := make(map[string]*virtual.Medium)
	for _, pc := range cfg.Ports {
		p, err := buildPort(pc, mediums, log)
		if err != nil {
			return nil, fmt.Errorf("daemon: building port %q: %w", pc.Label, err)
		}
		r.AddPort(p)
	}

	for _, z := range cfg.ZoneSeeds {
		max := z.NetworkMax
		if err := r.ZIT.AddNetworksToZone(z.Zone, z.NetworkMin, &max); err != nil {
			log.Warn("zone seed rejected", "zone", z.Zone, "network_min", z.NetworkMin, "network_max", z.NetworkMax, "error", err)
		}
	}

	rtmpResponding := rtmp.NewResponding(r.RT, r, r.Metrics, log)
	rtmpQueue := service.NewQueuedDeliverer(rtmpResponding, inboundQueueDepth)
	r.RegisterService(rtmp.Socket, rtmpQueue)
	r.AddLifecycle(rtmpQueue)

	rtmpSending, err := rtmp.NewSending(r, r.RT, cfg.RTMPSendInterval, cfg.SplitHorizon, r.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: rtmp sending: %w", err)
	}
	r.AddLifecycle(rtmpSending)

	zipResponding := zip.NewResponding(r.RT, r.ZIT, r, r.Metrics, log)
	zipQueue := service.NewQueuedDeliverer(zipResponding, inboundQueueDepth)
	r.RegisterService(zip.Socket, zipQueue)
	r.AddLifecycle(zipQueue)

	zipSending, err := zip.NewSending(r.RT, r.ZIT, cfg.ZIPSendInterval, r.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: zip sending: %w", err)
	}
	r.AddLifecycle(zipSending)

	nbpService, err := nbp.New(r.RT, r.ZIT, r, r.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: nbp: %w", err)
	}
	nbpQueue := service.NewQueuedDeliverer(nbpService, inboundQueueDepth)
	r.RegisterService(nbp.Socket, nbpQueue)
	r.AddLifecycle(nbpQueue)
	r.AddLifecycle(nbpService)

	echoService := echo.New(r, log)
	r.RegisterService(echo.Socket, echoService)

	ager := rtage.New(r.RT, cfg.RTAgeInterval, r.Metrics, log)
	r.AddLifecycle(ager)

	return &ServiceManager{
		config:   cfg,
		log:      log.WithComponent("daemon"),
		router:   r,
		stopChan: make(chan os.Signal, 1),
	}, nil
}

// buildPort constructs the Port driver pc names. Virtual ports sharing the
// same Medium name are attached to the same in-memory cable so a single
// process can host a multi-port test topology; the zero-value medium name
// is a single default cable shared by every virtual port that doesn't
// name one explicitly.
func buildPort(pc config.PortConfig, mediums map[string]*virtual.Medium, log *logger.Logger) (port.Port, error) {
	switch pc.Driver {
	case "virtual":
		name := pc.Medium
		if name == "" {
			name = "default"
		}
		m, ok := mediums[name]
		if !ok {
			m = virtual.NewMedium()
			mediums[name] = m
		}
		min, max := pc.NetworkMin, pc.NetworkMax
		if min == 0 && max == 0 {
			min, max = pc.Network, pc.Network
		}
		return virtual.New(pc.Label, m, pc.Network, pc.Node, min, max), nil
	case "udpmcast":
		return udpmcast.New(pc.Label, pc.IfaceAddr, pc.Network, log), nil
	case "ethertap":
		return newEthertap(pc, log)
	default:
		return nil, fmt.Errorf("unknown port driver %q", pc.Driver)
	}
}

// Start registers the process's shutdown signals and brings the Router up:
// every Port, then every service.
func (sm *ServiceManager) Start() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.isRunning {
		return fmt.Errorf("daemon: already running")
	}

	signal.Notify(sm.stopChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	if err := sm.router.Start(); err != nil {
		return fmt.Errorf("daemon: start: %w", err)
	}
	sm.isRunning = true
	return nil
}

// Wait blocks until a shutdown signal arrives, then stops the router.
func (sm *ServiceManager) Wait() error {
	sig := <-sm.stopChan
	sm.log.Info("received signal", "signal", sig.String())
	return sm.Stop()
}

// Stop tears the router down — services first, then ports — and is safe
// to call more than once.
func (sm *ServiceManager) Stop() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.isRunning {
		return nil
	}
	sm.isRunning = false
	return sm.router.Stop()
}

// Router exposes the underlying router, used by the CLI's test-config
// command to report what got built without starting anything.
func (sm *ServiceManager) Router() *router.Router {
	return sm.router
}
