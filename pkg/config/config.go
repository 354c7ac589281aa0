// Package config loads the bridge's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Control ControlConfig `yaml:"control"`
	Data    DataConfig    `yaml:"data"`
	Device  DeviceConfig  `yaml:"device"`
	Engine  EngineConfig  `yaml:"engine"`
	Status  StatusConfig  `yaml:"status"`
	Journal JournalConfig `yaml:"journal"`
}

type ControlConfig struct {
	Addr         string        `yaml:"addr"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DataConfig struct {
	Addr          string        `yaml:"addr"`
	InitialWindow uint64        `yaml:"initial_window"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdlePoll      time.Duration `yaml:"idle_poll"`
	SendBuffer    int           `yaml:"send_buffer"`
}

type DeviceConfig struct {
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	Divisions    int           `yaml:"divisions"`
}

// EngineConfig configures the simulated acquisition engine.
type EngineConfig struct {
	Vendor   string        `yaml:"vendor"`
	Model    string        `yaml:"model"`
	Channels int           `yaml:"channels"`
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Control.Addr == "" {
		c.Control.Addr = ":5025"
	}
	if c.Control.WriteTimeout == 0 {
		c.Control.WriteTimeout = 2 * time.Second
	}
	if c.Data.Addr == "" {
		c.Data.Addr = ":5026"
	}
	if c.Data.InitialWindow == 0 {
		c.Data.InitialWindow = 5
	}
	if c.Data.WriteTimeout == 0 {
		c.Data.WriteTimeout = 5 * time.Second
	}
	if c.Data.IdlePoll == 0 {
		c.Data.IdlePoll = 100 * time.Millisecond
	}
	if c.Device.ReadyTimeout == 0 {
		c.Device.ReadyTimeout = 2 * time.Second
	}
	if c.Device.StopTimeout == 0 {
		c.Device.StopTimeout = 2 * time.Second
	}
	if c.Device.Divisions == 0 {
		c.Device.Divisions = 10
	}
	if c.Engine.Mode == "" {
		c.Engine.Mode = "analog"
	}
	if c.Engine.Channels == 0 {
		c.Engine.Channels = 2
	}
	if c.Engine.Interval == 0 {
		c.Engine.Interval = 20 * time.Millisecond
	}
}

// Validate checks a configuration after defaults are applied; main calls it
// again after flag overrides.
func (c *Config) Validate() error {
	if c.Control.Addr == "" {
		return fmt.Errorf("control.addr is required")
	}
	if c.Data.Addr == "" {
		return fmt.Errorf("data.addr is required")
	}
	if c.Control.Addr == c.Data.Addr {
		return fmt.Errorf("control.addr and data.addr must differ (both %s)", c.Data.Addr)
	}
	if c.Data.SendBuffer < 0 {
		return fmt.Errorf("data.send_buffer must not be negative")
	}
	if c.Device.Divisions < 0 {
		return fmt.Errorf("device.divisions must not be negative")
	}
	if c.Engine.Mode != "analog" && c.Engine.Mode != "digital" {
		return fmt.Errorf("engine.mode must be analog or digital, got %q", c.Engine.Mode)
	}
	if c.Engine.Channels < 1 || c.Engine.Channels > 10 {
		return fmt.Errorf("engine.channels must be 1..10, got %d", c.Engine.Channels)
	}
	return nil
}
