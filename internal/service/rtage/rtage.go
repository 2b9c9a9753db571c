// Package rtage implements the Routing Table ager from spec.md §4.8: every
// T_AGE it runs one tick of the Routing Table's decay machine. The
// resulting Zone Information Table cleanup is already wired into
// *rtable.Table itself (it calls back into its ZoneRemover after each Age
// pass releases its lock, per spec.md §5) — this service only owns the
// timer.
package rtage

import (
	"time"

	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/metrics"
	"github.com/wesleywu/atalk-router/internal/service"
)

// RoutingTable is the subset of *rtable.Table the ager drives.
type RoutingTable interface {
	Age()
}

// Service runs RT.Age() every T_AGE.
type Service struct {
	rt      RoutingTable
	metrics *metrics.Counters
	log     *logger.Logger
	ticker  *service.Ticker
}

// New returns an RT ager. interval is T_AGE.
func New(rt RoutingTable, interval time.Duration, m *metrics.Counters, log *logger.Logger) *Service {
	s := &Service{rt: rt, metrics: m, log: log.WithComponent("rtage")}
	s.ticker = service.NewTicker(interval, s.tick)
	return s
}

// Start begins the periodic aging loop.
func (s *Service) Start() error {
	s.ticker.Start()
	return nil
}

// Stop halts the periodic aging loop.
func (s *Service) Stop() error {
	s.ticker.Stop()
	return nil
}

// ForceAge triggers an immediate aging pass outside the normal timer,
// useful in tests that would otherwise wait on a real timer.
func (s *Service) ForceAge() {
	s.ticker.Force()
}

func (s *Service) tick() {
	s.rt.Age()
	if s.metrics != nil {
		s.metrics.RecordAge(time.Now())
	}
}
