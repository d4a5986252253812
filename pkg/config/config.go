// Package config holds the runtime configuration for the device
// simulator and its terminal bridge.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Zero fields pick up their
// default tags, so a partial YAML file works fine.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Device struct {
		NamePrefix string `yaml:"name_prefix" default:"S1"`
		// Address is the 32-bit device address in hex. Empty means a
		// random address.
		Address string `yaml:"address"`
		MaxMTU  uint16 `yaml:"max_mtu" default:"128"`
		// RingCapacity sizes the REPL byte rings.
		RingCapacity int `yaml:"ring_capacity" default:"1069"`
	} `yaml:"device"`

	Link struct {
		ConnInterval       time.Duration `yaml:"conn_interval" default:"15ms"`
		AdvInterval        time.Duration `yaml:"adv_interval" default:"20ms"`
		SlaveLatency       uint16        `yaml:"slave_latency" default:"3"`
		SupervisionTimeout time.Duration `yaml:"supervision_timeout" default:"2s"`
		// HVNQueueDepth is how many notifications the stack holds
		// before the sender has to retry.
		HVNQueueDepth int `yaml:"hvn_queue_depth" default:"1"`
	} `yaml:"link"`

	Terminal struct {
		ReadCap  int `yaml:"read_cap" default:"4096"`
		WriteCap int `yaml:"write_cap" default:"4096"`
	} `yaml:"terminal"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// NewLogger creates a logger configured per the config.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
