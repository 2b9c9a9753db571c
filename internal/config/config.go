// Package config loads the router's static setup: which Ports to
// construct and with what driver-specific parameters, optional seed zone
// assignments, and the tunable intervals from spec.md §6. Mirrors the
// teacher's config.Config / LoadConfig / Validate shape: a
// NewDefaultConfig baseline, an optional JSON file overlaid on top of it,
// validated before use. Deliberately small: spec.md's Non-goals exclude
// "configuration loading" as a feature surface, so there is no
// hot-reload, no remote config service, no schema registry.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PortConfig describes one Port to construct. Driver selects which
// package builds it ("virtual", "udpmcast", "ethertap"); the remaining
// fields are driver-specific and ignored by drivers that don't use them.
type PortConfig struct {
	Label      string `json:"label"`
	Driver     string `json:"driver"`
	Interface  string `json:"interface,omitempty"`   // ethertap: Linux interface name
	Namespace  string `json:"namespace,omitempty"`   // ethertap: optional network namespace
	IfaceAddr  string `json:"iface_addr,omitempty"`  // udpmcast: local interface address to join on
	Network    uint16 `json:"network,omitempty"`     // non-extended cables: static network number, 0 = learn via RTMP
	NetworkMin uint16 `json:"network_min,omitempty"` // extended cables / virtual test ports: static range
	NetworkMax uint16 `json:"network_max,omitempty"`
	Node       uint8  `json:"node,omitempty"` // virtual: statically assigned node address
	Medium     string `json:"medium,omitempty"` // virtual: name of the shared in-memory cable to attach to
}

// ZoneSeed pre-populates the Zone Information Table, used when running a
// non-seed router that still needs to answer ZIP queries about its own
// directly connected cables before any ZIP learning has happened.
type ZoneSeed struct {
	Zone       string `json:"zone"`
	NetworkMin uint16 `json:"network_min"`
	NetworkMax uint16 `json:"network_max"`
}

// Config is the router daemon's static configuration document.
type Config struct {
	LogLevel string `json:"log_level"`

	Ports     []PortConfig `json:"ports"`
	ZoneSeeds []ZoneSeed   `json:"zone_seeds"`

	RTMPSendInterval time.Duration `json:"rtmp_send_interval"`
	RTAgeInterval    time.Duration `json:"rt_age_interval"`
	ZIPSendInterval  time.Duration `json:"zip_send_interval"`
	SplitHorizon     bool          `json:"split_horizon"`
}

// NewDefaultConfig returns a Config with every tunable interval set to its
// spec.md §6 default and no Ports configured.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		Ports:            nil,
		ZoneSeeds:        nil,
		RTMPSendInterval: 10 * time.Second,
		RTAgeInterval:    20 * time.Second,
		ZIPSendInterval:  10 * time.Second,
		SplitHorizon:     true,
	}
}

// LoadConfig reads path, if given, as a JSON document overlaid on
// NewDefaultConfig's baseline, then validates the result. An empty path,
// or a path that doesn't exist, returns the default configuration
// unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

// Validate checks the loaded configuration is internally consistent
// before the daemon tries to act on it.
func (c *Config) Validate() error {
	if c.RTMPSendInterval < time.Second {
		return fmt.Errorf("rtmp_send_interval must be at least 1 second")
	}
	if c.RTAgeInterval < time.Second {
		return fmt.Errorf("rt_age_interval must be at least 1 second")
	}
	if c.ZIPSendInterval < time.Second {
		return fmt.Errorf("zip_send_interval must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	seen := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p.Label == "" {
			return fmt.Errorf("port entry missing label")
		}
		if seen[p.Label] {
			return fmt.Errorf("duplicate port label %q", p.Label)
		}
		seen[p.Label] = true
		switch p.Driver {
		case "virtual", "udpmcast", "ethertap":
		default:
			return fmt.Errorf("port %q: unknown driver %q", p.Label, p.Driver)
		}
	}

	for _, z := range c.ZoneSeeds {
		if z.Zone == "" {
			return fmt.Errorf("zone seed missing zone name")
		}
		if z.NetworkMax < z.NetworkMin {
			return fmt.Errorf("zone seed %q: range %d-%d is backwards", z.Zone, z.NetworkMin, z.NetworkMax)
		}
	}

	return nil
}

// Save writes c back out as indented JSON, so that a configuration can be
// round-tripped through LoadConfig. The CLI does not call it.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
