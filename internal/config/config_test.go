package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.RTMPSendInterval != 10*time.Second {
		t.Errorf("expected rtmp send interval 10s, got %v", cfg.RTMPSendInterval)
	}
	if cfg.RTAgeInterval != 20*time.Second {
		t.Errorf("expected rt age interval 20s, got %v", cfg.RTAgeInterval)
	}
	if cfg.ZIPSendInterval != 10*time.Second {
		t.Errorf("expected zip send interval 10s, got %v", cfg.ZIPSendInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		expectError bool
	}{
		{name: "valid default", cfg: NewDefaultConfig(), expectError: false},
		{
			name: "invalid log level",
			cfg: &Config{
				LogLevel: "invalid", RTMPSendInterval: 10 * time.Second,
				RTAgeInterval: 20 * time.Second, ZIPSendInterval: 10 * time.Second,
			},
			expectError: true,
		},
		{
			name: "rtmp interval too small",
			cfg: &Config{
				LogLevel: "info", RTMPSendInterval: 0,
				RTAgeInterval: 20 * time.Second, ZIPSendInterval: 10 * time.Second,
			},
			expectError: true,
		},
		{
			name: "unknown port driver",
			cfg: &Config{
				LogLevel: "info", RTMPSendInterval: 10 * time.Second,
				RTAgeInterval: 20 * time.Second, ZIPSendInterval: 10 * time.Second,
				Ports: []PortConfig{{Label: "a", Driver: "carrier-pigeon"}},
			},
			expectError: true,
		},
		{
			name: "duplicate port label",
			cfg: &Config{
				LogLevel: "info", RTMPSendInterval: 10 * time.Second,
				RTAgeInterval: 20 * time.Second, ZIPSendInterval: 10 * time.Second,
				Ports: []PortConfig{{Label: "a", Driver: "virtual"}, {Label: "a", Driver: "virtual"}},
			},
			expectError: true,
		},
		{
			name: "backwards zone seed range",
			cfg: &Config{
				LogLevel: "info", RTMPSendInterval: 10 * time.Second,
				RTAgeInterval: 20 * time.Second, ZIPSendInterval: 10 * time.Second,
				ZoneSeeds: []ZoneSeed{{Zone: "Engineering", NetworkMin: 20, NetworkMax: 10}},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoadConfigMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoadConfigEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atalkrouterd.json")
	cfg := NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Ports = []PortConfig{{Label: "eth0", Driver: "ethertap", Interface: "eth0"}}
	cfg.ZoneSeeds = []ZoneSeed{{Zone: "Engineering", NetworkMin: 100, NetworkMax: 110}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %q", loaded.LogLevel)
	}
	if len(loaded.Ports) != 1 || loaded.Ports[0].Label != "eth0" {
		t.Fatalf("unexpected ports after round trip: %+v", loaded.Ports)
	}
	if len(loaded.ZoneSeeds) != 1 || loaded.ZoneSeeds[0].Zone != "Engineering" {
		t.Fatalf("unexpected zone seeds after round trip: %+v", loaded.ZoneSeeds)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
}
