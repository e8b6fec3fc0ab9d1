// Package config loads the deskctl YAML configuration used by the long-lived
// run command.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

var addressPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Config describes one desk and the session timing around it.
type Config struct {
	// Address is the desk's Bluetooth address, required.
	Address string `yaml:"address"`
	// Name is a display name; the advertised name is used when empty.
	Name string `yaml:"name"`

	// BaseHeightCM is the physical height of the desk at its lowest
	// position, added to relative telemetry for absolute readings.
	BaseHeightCM float64 `yaml:"base_height_cm" default:"62"`
	// MovementRangeCM spans the desk's travel, used for percent-open math.
	MovementRangeCM float64 `yaml:"movement_range_cm" default:"65"`

	RefreshInterval time.Duration `yaml:"refresh_interval" default:"60s"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout" default:"30s"`
	IdleDelay       time.Duration `yaml:"idle_delay" default:"120s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
}

// Default returns a config with all defaults applied and no address.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and validates a config file. Fields absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !addressPattern.MatchString(c.Address) {
		return fmt.Errorf("address %q is not a valid Bluetooth address", c.Address)
	}
	if c.MovementRangeCM <= 0 {
		return fmt.Errorf("movement_range_cm must be positive")
	}
	if c.RefreshInterval <= 0 || c.IdleDelay <= 0 || c.ConnectTimeout <= 0 || c.ReadyTimeout <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}
