package daemon

import (
	"testing"

	"github.com/wesleywu/atalk-router/internal/config"
	"github.com/wesleywu/atalk-router/internal/logger"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Ports = []config.PortConfig{
		{Label: "a", Driver: "virtual", Medium: "lab", Network: 10, Node: 1, NetworkMin: 10, NetworkMax: 10},
		{Label: "b", Driver: "virtual", Medium: "lab", Network: 20, Node: 1, NetworkMin: 20, NetworkMax: 20},
	}
	cfg.ZoneSeeds = []config.ZoneSeed{{Zone: "Lab", NetworkMin: 10, NetworkMax: 10}}
	return cfg
}

func TestNewServiceManagerWiresPortsAndZoneSeeds(t *testing.T) {
	cfg := testConfig()
	sm, err := NewServiceManager(cfg, logger.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(sm.Router().Ports()); got != 2 {
		t.Fatalf("expected 2 ports, got %d", got)
	}

	zones := sm.Router().ZIT.Zones()
	if len(zones) != 1 || zones[0] != "Lab" {
		t.Fatalf("expected zone seed to be loaded, got %v", zones)
	}
}

func TestNewServiceManagerRejectsUnknownDriver(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Ports = []config.PortConfig{{Label: "x", Driver: "carrier-pigeon"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject unknown driver before daemon construction")
	}
	if _, err := NewServiceManager(cfg, logger.New("error")); err == nil {
		t.Fatalf("expected NewServiceManager to reject unknown driver")
	}
}

func TestServiceManagerStartStop(t *testing.T) {
	cfg := testConfig()
	sm, err := NewServiceManager(cfg, logger.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sm.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sm.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop is idempotent.
	if err := sm.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
