package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"icc.tech/svcport/internal/log"
)

// Load reads the configuration file at path, overlays SVCPORT_* environment
// variables and fills in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	fileExt := filepath.Ext(filename)

	v.SetConfigName(strings.TrimSuffix(filename, fileExt))
	v.SetConfigType(strings.TrimPrefix(fileExt, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("SVCPORT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: a stub port
// with no services, mostly useful with the config command.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultConfig()
	}
	if cfg.Port.Driver == "" {
		cfg.Port.Driver = "stub"
	}
	if cfg.Port.SnapLen == 0 {
		cfg.Port.SnapLen = 65535
	}
	if cfg.Port.BufferSizeMB == 0 {
		cfg.Port.BufferSizeMB = 8
	}
	if cfg.Port.TimeoutMs == 0 {
		cfg.Port.TimeoutMs = 100
	}
	if cfg.Engine.Backoff == 0 {
		cfg.Engine.Backoff = 50 * time.Millisecond
	}
	for i := range cfg.Services.ARP {
		if cfg.Services.ARP[i].Timeout == 0 {
			cfg.Services.ARP[i].Timeout = time.Second
		}
		if cfg.Services.ARP[i].Retries == 0 {
			cfg.Services.ARP[i].Retries = 3
		}
	}
	for i := range cfg.Services.Ping {
		p := &cfg.Services.Ping[i]
		if p.Count == 0 {
			p.Count = 4
		}
		if p.Interval == 0 {
			p.Interval = time.Second
		}
		if p.Timeout == 0 {
			p.Timeout = time.Second
		}
		if p.PayloadSize == 0 {
			p.PayloadSize = 56
		}
	}
}
