// Package config loads the YAML files that describe a router's interfaces
// and static routes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InterfaceConfig describes one router-attached interface.
type InterfaceConfig struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
	MAC  string `yaml:"mac"`
	// Device is the host TAP/NIC name reported when opening this interface
	// fails; empty means Name. cmd/vnet-router always opens the device named
	// Name: Device does not select a different host device.
	Device string `yaml:"device"`
	// Bridge, if true, attaches to an existing NIC via a raw socket
	// instead of allocating a new TAP device.
	Bridge bool `yaml:"bridge"`
}

// RouteConfig is one static RIB entry.
type RouteConfig struct {
	Network string `yaml:"network"` // CIDR, e.g. "10.0.0.0/24"
	NextHop string `yaml:"next_hop"`
	Iface   string `yaml:"iface"`
}

// RouterConfig is the top-level shape of a router's YAML config file.
type RouterConfig struct {
	Interfaces  []InterfaceConfig `yaml:"interfaces"`
	Routes      []RouteConfig     `yaml:"routes"`
	MetricsAddr string            `yaml:"metrics_addr"`
}

// Load reads and parses a RouterConfig from path.
func Load(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg RouterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("config: %s declares no interfaces", path)
	}
	return &cfg, nil
}

// CtcpdConfig is the top-level shape of the cTCP daemon's YAML config file.
type CtcpdConfig struct {
	ListenIface string `yaml:"listen_iface"`
	MetricsAddr string `yaml:"metrics_addr"`
	Congestion  string `yaml:"congestion"` // "fixed" or "bbr"
	RTTimeoutMS int    `yaml:"rt_timeout_ms"`
}

// LoadCtcpd reads and parses a CtcpdConfig from path.
func LoadCtcpd(path string) (*CtcpdConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg CtcpdConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Congestion == "" {
		cfg.Congestion = "fixed"
	}
	if cfg.RTTimeoutMS == 0 {
		cfg.RTTimeoutMS = 1000
	}
	return &cfg, nil
}
