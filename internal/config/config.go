// Package config loads fabricd's runtime configuration from the
// environment (and an optional .env file), the same two-layer pattern
// the reference server uses.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/watermesh/fabric/internal/logging"
)

// Config holds all of fabricd's configuration. Env tags document the
// environment variable each field is read from; envDefault supplies
// the fallback when unset.
type Config struct {
	// ServerSID is this net's own address (Net.ServerAddr), used by
	// destination-net filtering for dstsid == LocalNetID deliveries.
	ServerSID uint64 `env:"FABRIC_SERVER_SID" envDefault:"1"`

	// GatewayAddr is the listen address for the WebSocket gateway.
	GatewayAddr string `env:"FABRIC_GATEWAY_ADDR" envDefault:":7070"`

	// NATSURL is the bridge's upstream NATS connection string.
	NATSURL string `env:"FABRIC_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	// NATSSubjectPrefix namespaces the subjects the bridge forwards
	// raw messages under.
	NATSSubjectPrefix string `env:"FABRIC_NATS_SUBJECT_PREFIX" envDefault:"fabric"`

	// MaxConnections bounds how many gateway connections may be live
	// at once; beyond this, new connections are refused.
	MaxConnections int `env:"FABRIC_MAX_CONNECTIONS" envDefault:"500"`

	// MaxBroadcastRate caps Net-wide broadcast sends per second (0
	// disables the limiter); see Net.SetSendRateLimit.
	MaxBroadcastRate int `env:"FABRIC_MAX_BROADCAST_RATE" envDefault:"2000"`

	// EndpointPendingLimit and EndpointMemoryLimit are the defaults
	// applied to every endpoint the gateway creates for an inbound
	// connection (0 disables the corresponding limit).
	EndpointPendingLimit int `env:"FABRIC_ENDPOINT_PENDING_LIMIT" envDefault:"256"`
	EndpointMemoryLimit  int `env:"FABRIC_ENDPOINT_MEMORY_LIMIT" envDefault:"4194304"`

	// CPURejectThreshold and CPUPauseThreshold gate the diagnostics
	// sampler's advisory "shed load" signal (percent of host-wide CPU
	// as reported by gopsutil's cpu.Percent).
	CPURejectThreshold float64 `env:"FABRIC_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"FABRIC_CPU_PAUSE_THRESHOLD" envDefault:"85.0"`

	LogLevel  logging.Level  `env:"FABRIC_LOG_LEVEL" envDefault:"info"`
	LogFormat logging.Format `env:"FABRIC_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"FABRIC_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from the environment, optionally preceded
// by a .env file (ignored if absent — this is a convenience for local
// development, never required in production). logger may be nil; if
// so, no notice about the .env file is emitted.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks range and enum constraints that env.Parse cannot
// express on its own.
func (c *Config) Validate() error {
	if c.GatewayAddr == "" {
		return fmt.Errorf("FABRIC_GATEWAY_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("FABRIC_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("FABRIC_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("FABRIC_CPU_PAUSE_THRESHOLD (%.1f) must be >= FABRIC_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	switch c.LogLevel {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("FABRIC_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatPretty:
	default:
		return fmt.Errorf("FABRIC_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the loaded configuration as a single structured
// event, the Loki-friendly alternative to a human-readable dump.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Uint64("server_sid", c.ServerSID).
		Str("gateway_addr", c.GatewayAddr).
		Str("nats_url", c.NATSURL).
		Int("max_connections", c.MaxConnections).
		Int("max_broadcast_rate", c.MaxBroadcastRate).
		Int("endpoint_pending_limit", c.EndpointPendingLimit).
		Int("endpoint_memory_limit", c.EndpointMemoryLimit).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Msg("configuration loaded")
}
