// Package config loads the service configuration: defaults, an
// optional YAML file, then CANSIM_* environment overrides, validated
// before use.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

// Config is the complete service configuration.
type Config struct {
	Bus       BusConfig       `yaml:"bus"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Messages  []MessageConfig `yaml:"messages"`
}

// BusConfig holds the CAN transport settings.
type BusConfig struct {
	Channel   string `yaml:"channel"`
	Interface string `yaml:"interface"`
	Bitrate   int    `yaml:"bitrate"`
	AutoOpen  bool   `yaml:"autoOpen"`
}

// APIConfig holds the control API server settings.
type APIConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"readTimeoutSec"`
	WriteTimeoutSec int `yaml:"writeTimeoutSec"`
	IdleTimeoutSec  int `yaml:"idleTimeoutSec"`
}

// AuthConfig holds the optional bearer-token settings for the control
// API. Disabled by default for bench use.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Algorithm    string `yaml:"algorithm"` // "HS256" or "RS256"
	SecretKey    string `yaml:"secretKey"`
	PublicKeyPEM string `yaml:"publicKeyPem"`
}

// LogConfig holds service log settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	ToFile     bool   `yaml:"toFile"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TelemetryConfig holds event stream settings.
type TelemetryConfig struct {
	EventBufferSize int `yaml:"eventBufferSize"`
	HeartbeatSec    int `yaml:"heartbeatSec"`
}

// MessageConfig is one preset table row, written the way the operator
// writes it: hex identifier, hex byte string, cycle in milliseconds.
type MessageConfig struct {
	ID      string  `yaml:"id"`
	Data    string  `yaml:"data"`
	CycleMs float64 `yaml:"cycleMs"`
	IDType  string  `yaml:"idType"`
}

// Parse converts a preset row into a validated message spec.
func (m MessageConfig) Parse() (transmit.MessageSpec, error) {
	return transmit.ParseSpec(m.ID, m.Data, m.CycleMs, m.IDType)
}

// StandardBitrates are the commonly used CAN bitrates offered to the
// operator; other positive transport-supported values are accepted.
var StandardBitrates = []int{125000, 250000, 500000, 1000000}

// Load builds the configuration: defaults, then the YAML file named by
// CANSIM_CONFIG (or config.yaml if present), then environment
// overrides, then validation.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CANSIM_CONFIG")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Channel:   "can0",
			Interface: "socketcan",
			Bitrate:   250000,
			AutoOpen:  false,
		},
		API: APIConfig{
			Port:            8000,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  120,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
		Log: LogConfig{
			Level:      "info",
			Dir:        "logs",
			ToFile:     false,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{
			EventBufferSize: 1000,
			HeartbeatSec:    15,
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CANSIM_CHANNEL"); v != "" {
		cfg.Bus.Channel = v
	}
	if v := os.Getenv("CANSIM_INTERFACE"); v != "" {
		cfg.Bus.Interface = v
	}
	if v := os.Getenv("CANSIM_BITRATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Bitrate = n
		}
	}
	if v := os.Getenv("CANSIM_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("CANSIM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CANSIM_AUTH_SECRET"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.Algorithm = "HS256"
		cfg.Auth.SecretKey = v
	}
}

// Validate checks the loaded configuration, including that every
// preset message row parses.
func (c *Config) Validate() error {
	if c.Bus.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %d, must be positive (common values: %v)",
			c.Bus.Bitrate, StandardBitrates)
	}
	if c.Bus.Interface == "" {
		return fmt.Errorf("bus interface must not be empty")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}
	if c.Telemetry.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", c.Telemetry.EventBufferSize)
	}
	if c.Auth.Enabled {
		switch c.Auth.Algorithm {
		case "HS256":
			if c.Auth.SecretKey == "" {
				return fmt.Errorf("auth algorithm HS256 requires a secret key")
			}
		case "RS256":
			if c.Auth.PublicKeyPEM == "" {
				return fmt.Errorf("auth algorithm RS256 requires a public key")
			}
		default:
			return fmt.Errorf("unknown auth algorithm %q", c.Auth.Algorithm)
		}
	}
	for i, m := range c.Messages {
		if _, err := m.Parse(); err != nil {
			return fmt.Errorf("message %d (%s): %w", i, m.ID, err)
		}
	}
	return nil
}

// ParseMessages converts all preset rows. Call after Validate.
func (c *Config) ParseMessages() ([]transmit.MessageSpec, error) {
	specs := make([]transmit.MessageSpec, 0, len(c.Messages))
	for i, m := range c.Messages {
		spec, err := m.Parse()
		if err != nil {
			return nil, fmt.Errorf("message %d (%s): %w", i, m.ID, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
