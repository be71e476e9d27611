package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for fusiond.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Assets        []string        `yaml:"assets"`
	Snapshot      SnapshotConfig  `yaml:"snapshot"`
	Audit         AuditConfig     `yaml:"audit"`
	Timelocks     TimelockConfig  `yaml:"timelocks"`
	Orders        OrderConfig     `yaml:"orders"`
	Signer        SignerConfig    `yaml:"signer"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// SnapshotConfig controls durable state persistence.
type SnapshotConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
	History  int      `yaml:"history"`
}

// AuditConfig controls the sqlite event audit log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// TimelockConfig tunes the cross-chain coordination buffers.
type TimelockConfig struct {
	Finality     Duration `yaml:"finality"`
	Coordination Duration `yaml:"coordination"`
	Safety       Duration `yaml:"safety"`
	MinDuration  Duration `yaml:"min_duration"`
}

// OrderConfig bounds the order book.
type OrderConfig struct {
	MaxActive     int `yaml:"max_active"`
	MaxPerMaker   int `yaml:"max_per_maker"`
	RatePerMinute int `yaml:"rate_per_minute"`
	// SweepInterval controls how often expired orders and swaps are
	// reaped.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// SignerConfig selects the signing backend.
type SignerConfig struct {
	// KeyHex is a hex-encoded secp256k1 private key. When empty an
	// ephemeral key is generated at startup.
	KeyHex string `yaml:"key_hex"`
	// HealthInterval controls how often the backend is probed.
	HealthInterval Duration `yaml:"health_interval"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// LoggingConfig tunes structured log output.
type LoggingConfig struct {
	Environment string `yaml:"environment"`
	// File, when set, mirrors logs into a size-rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ListenAddress: ":8640",
		Snapshot: SnapshotConfig{
			Path:     "fusiond-snapshots.db",
			Interval: Duration{Duration: time.Minute},
			History:  8,
		},
		Audit: AuditConfig{Path: "fusiond-audit.db"},
		Timelocks: TimelockConfig{
			Finality:     Duration{Duration: 2 * time.Minute},
			Coordination: Duration{Duration: time.Minute},
			Safety:       Duration{Duration: 5 * time.Minute},
			MinDuration:  Duration{Duration: 10 * time.Minute},
		},
		Orders: OrderConfig{
			MaxActive:     10_000,
			MaxPerMaker:   100,
			RatePerMinute: 60,
			SweepInterval: Duration{Duration: 30 * time.Second},
		},
		Signer:  SignerConfig{HealthInterval: Duration{Duration: time.Minute}},
		Logging: LoggingConfig{Environment: "production", MaxSizeMB: 128, MaxBackups: 4},
	}
}

// Load reads and validates the configuration at path. A missing path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen address required")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot path required")
	}
	if c.Snapshot.Interval.Duration <= 0 {
		return fmt.Errorf("config: snapshot interval must be positive")
	}
	if c.Timelocks.Finality.Duration <= 0 || c.Timelocks.Coordination.Duration <= 0 {
		return fmt.Errorf("config: timelock buffers must be positive")
	}
	if c.Timelocks.MinDuration.Duration < c.Timelocks.Finality.Duration+c.Timelocks.Coordination.Duration {
		return fmt.Errorf("config: min timelock duration below coordination buffer")
	}
	if c.Orders.MaxActive <= 0 || c.Orders.MaxPerMaker <= 0 {
		return fmt.Errorf("config: order limits must be positive")
	}
	if c.Orders.MaxPerMaker > c.Orders.MaxActive {
		return fmt.Errorf("config: per-maker limit exceeds system limit")
	}
	return nil
}
