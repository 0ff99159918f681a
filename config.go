// Package smpte2022 provides configuration and logging bootstrap for the FEC
// engine packages of this module.
package smpte2022

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/streamfec/smpte2022/fec"
)

// MetricsConfig holds the metrics exposition settings of the embedding
// application.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// StreamConfig holds the per-stream FEC settings loaded from a TOML file.
type StreamConfig struct {
	// FEC matrix dimensions, shared by the generator and the receiver.
	FEC fec.Config `toml:"fec"`

	// Delay is the receiver buffering delay in packets.
	Delay int `toml:"delay"`

	// OnlyMP2T restricts the receiver ingest to valid MPEG2-TS payloads.
	OnlyMP2T bool `toml:"only_mp2t"`

	LogLevel string `toml:"log_level"`

	Metrics MetricsConfig `toml:"metrics"`
}

// DefaultStreamConfig returns the settings used when a field is absent from
// the configuration file.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		FEC:      fec.Config{L: 5, D: 10},
		Delay:    100,
		OnlyMP2T: true,
		LogLevel: "info",
	}
}

// Validate checks the loaded configuration.
func (c *StreamConfig) Validate() error {
	if err := c.FEC.Validate(); err != nil {
		return err
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %d", c.Delay)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// LoadConfig reads and validates a stream configuration from a TOML file.
func LoadConfig(path string) (*StreamConfig, error) {
	config := DefaultStreamConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("loading config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}
