// Package config loads the YAML machine configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gopper-endstops/logging"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultSerial        = "/dev/ttyACM0"
	DefaultBaud          = 250000
	DefaultReadTimeoutMs = 100
	DefaultListen        = ":7125"
	DefaultLogLevel      = "info"
)

type Config struct {
	MCU      MCUConfig       `yaml:"mcu"`
	Toolhead ToolheadConfig  `yaml:"toolhead"`
	Endstops []EndstopConfig `yaml:"endstops"`
	Status   StatusConfig    `yaml:"status"`
	Log      LogConfig       `yaml:"log"`
}

type MCUConfig struct {
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
	// ReadTimeoutMs of 0 makes serial reads block; nil means
	// DefaultReadTimeoutMs
	ReadTimeoutMs *int `yaml:"read_timeout_ms"`

	// ClockFreq overrides the dictionary CLOCK_FREQ when non-zero
	ClockFreq float64 `yaml:"clock_freq"`
}

// ReadTimeout returns the serial read timeout in milliseconds
func (c MCUConfig) ReadTimeout() int {
	if c.ReadTimeoutMs == nil {
		return DefaultReadTimeoutMs
	}
	return *c.ReadTimeoutMs
}

type ToolheadConfig struct {
	// BufferTimeStart is in seconds; nil means the toolhead default
	BufferTimeStart *float64 `yaml:"buffer_time_start"`
}

type EndstopConfig struct {
	Name   string `yaml:"name"`
	OID    uint8  `yaml:"oid"`
	Invert bool   `yaml:"invert"`

	// Pin, when set, is sent with config_endstop at connect time.
	// Without it the MCU must already have the oid configured.
	Pin    *uint32 `yaml:"pin"`
	PullUp bool    `yaml:"pull_up"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads, defaults and validates a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.MCU.Serial == "" {
		cfg.MCU.Serial = DefaultSerial
	}
	if cfg.MCU.Baud == 0 {
		cfg.MCU.Baud = DefaultBaud
	}
	if cfg.MCU.ReadTimeoutMs == nil {
		ms := DefaultReadTimeoutMs
		cfg.MCU.ReadTimeoutMs = &ms
	}
	if cfg.Status.Listen == "" {
		cfg.Status.Listen = DefaultListen
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration without modifying it
func Validate(cfg *Config) error {
	if cfg.MCU.Serial == "" {
		return fmt.Errorf("%w: mcu.serial must be set", ErrInvalidConfig)
	}
	if cfg.MCU.Baud <= 0 {
		return fmt.Errorf("%w: mcu.baud must be positive, got %d", ErrInvalidConfig, cfg.MCU.Baud)
	}
	if rt := cfg.MCU.ReadTimeoutMs; rt != nil && *rt < 0 {
		return fmt.Errorf("%w: mcu.read_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if cfg.MCU.ClockFreq < 0 {
		return fmt.Errorf("%w: mcu.clock_freq must not be negative", ErrInvalidConfig)
	}
	if bts := cfg.Toolhead.BufferTimeStart; bts != nil && *bts < 0 {
		return fmt.Errorf("%w: toolhead.buffer_time_start must not be negative", ErrInvalidConfig)
	}

	// Names may repeat, OIDs may not
	oidOwner := make(map[uint8]string)
	for i, es := range cfg.Endstops {
		if es.Name == "" {
			return fmt.Errorf("%w: endstops[%d]: name must be set", ErrInvalidConfig, i)
		}
		if prev, exists := oidOwner[es.OID]; exists {
			return fmt.Errorf("%w: endstop oid %d used by %q and %q", ErrInvalidConfig, es.OID, prev, es.Name)
		}
		oidOwner[es.OID] = es.Name
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}
