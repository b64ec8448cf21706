// Package config loads the JSON configuration shared by the lotstream
// binaries, with environment variable overrides applied on top of file
// values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360/lotstream/authority"
	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/gate"
	"github.com/c360/lotstream/protocol"
)

// NATSConfig holds connection settings for the transport channel.
type NATSConfig struct {
	URL           string        `json:"url"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	StreamName    string        `json:"stream_name,omitempty"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Config is the complete configuration for a lotstream process. The
// Lot section applies to the authority binary, the Gate section to the
// controller binary; each binary ignores the other's section.
type Config struct {
	NATS    NATSConfig       `json:"nats"`
	Lot     authority.Config `json:"lot"`
	Gate    gate.Config      `json:"gate"`
	Metrics MetricsConfig    `json:"metrics"`
}

// Default returns the deployed defaults.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Lot:  authority.DefaultConfig(),
		Gate: gate.DefaultConfig(protocol.RoleEntry),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the NATS and metrics sections. Lot and Gate sections
// are validated by their owning components.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("nats url must not be empty"),
			"Config", "Validate", "nats validation")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(
			fmt.Errorf("metrics port out of range: %d", c.Metrics.Port),
			"Config", "Validate", "metrics validation")
	}
	return nil
}

// Loader reads configuration files and applies environment overrides.
type Loader struct {
	envPrefix string
}

// NewLoader creates a loader using the LOTSTREAM env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LOTSTREAM"}
}

// Load builds the configuration from defaults, an optional file, and
// the environment, in that order. An empty path skips the file layer.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read config file "+path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "parse config file "+path)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_GATE_ROLE"); val != "" {
		cfg.Gate.Role = protocol.Role(val)
	}
}
