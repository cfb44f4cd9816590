// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"

	"icc.tech/svcport/internal/log"
)

type Config struct {
	Logger   *log.Config    `mapstructure:"logger" yaml:"logger,omitempty"`
	Port     PortConfig     `mapstructure:"port" yaml:"port"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Services ServicesConfig `mapstructure:"services" yaml:"services"`
}

// PortConfig describes the physical port the services run on.
type PortConfig struct {
	ID     int    `mapstructure:"id" yaml:"id"`
	Device string `mapstructure:"device" yaml:"device"`
	// Driver selects the port client implementation: "afpacket" for a
	// real interface, "stub" for the in-memory client.
	Driver       string `mapstructure:"driver" yaml:"driver"`
	SnapLen      int    `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	TimeoutMs    int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// EngineConfig tunes the scheduler.
type EngineConfig struct {
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// ServicesConfig lists the service tasks to run on the port.
type ServicesConfig struct {
	ARP  []ARPConfig  `mapstructure:"arp" yaml:"arp,omitempty"`
	Ping []PingConfig `mapstructure:"ping" yaml:"ping,omitempty"`
}

type ARPConfig struct {
	SrcIP   string        `mapstructure:"src_ip" yaml:"src_ip"`
	SrcMAC  string        `mapstructure:"src_mac" yaml:"src_mac"`
	DstIP   string        `mapstructure:"dst_ip" yaml:"dst_ip"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
}

type PingConfig struct {
	SrcIP       string        `mapstructure:"src_ip" yaml:"src_ip"`
	SrcMAC      string        `mapstructure:"src_mac" yaml:"src_mac"`
	DstIP       string        `mapstructure:"dst_ip" yaml:"dst_ip"`
	DstMAC      string        `mapstructure:"dst_mac" yaml:"dst_mac"`
	Count       int           `mapstructure:"count" yaml:"count"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PayloadSize int           `mapstructure:"payload_size" yaml:"payload_size"`
}

// Validate checks the parts of the configuration that can be verified
// without touching the port.
func (c *Config) Validate() error {
	switch c.Port.Driver {
	case "afpacket", "stub":
	default:
		return fmt.Errorf("port.driver must be \"afpacket\" or \"stub\", got %q", c.Port.Driver)
	}
	if c.Port.Driver == "afpacket" && c.Port.Device == "" {
		return fmt.Errorf("port.device is required for the afpacket driver")
	}
	if c.Engine.Backoff <= 0 {
		return fmt.Errorf("engine.backoff must be positive, got %s", c.Engine.Backoff)
	}
	for i, a := range c.Services.ARP {
		if net.ParseIP(a.SrcIP) == nil {
			return fmt.Errorf("services.arp[%d].src_ip: invalid address %q", i, a.SrcIP)
		}
		if net.ParseIP(a.DstIP) == nil {
			return fmt.Errorf("services.arp[%d].dst_ip: invalid address %q", i, a.DstIP)
		}
		if _, err := net.ParseMAC(a.SrcMAC); err != nil {
			return fmt.Errorf("services.arp[%d].src_mac: %w", i, err)
		}
	}
	for i, p := range c.Services.Ping {
		if net.ParseIP(p.SrcIP) == nil {
			return fmt.Errorf("services.ping[%d].src_ip: invalid address %q", i, p.SrcIP)
		}
		if net.ParseIP(p.DstIP) == nil {
			return fmt.Errorf("services.ping[%d].dst_ip: invalid address %q", i, p.DstIP)
		}
		if _, err := net.ParseMAC(p.SrcMAC); err != nil {
			return fmt.Errorf("services.ping[%d].src_mac: %w", i, err)
		}
		if _, err := net.ParseMAC(p.DstMAC); err != nil {
			return fmt.Errorf("services.ping[%d].dst_mac: %w", i, err)
		}
		// Echo sequence numbers are 16-bit.
		if p.Count < 0 || p.Count > 65535 {
			return fmt.Errorf("services.ping[%d].count must be between 0 and 65535, got %d", i, p.Count)
		}
	}
	return nil
}

// Dump renders the configuration as YAML, as printed by the config command.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
