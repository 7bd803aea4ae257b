// Package config loads the broker's tunable settings: everything beyond
// the required positional CLI arguments spec.md's external interface
// fixes in place (port, client id, broker address).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// OperatorConfig holds every broker setting that isn't part of the fixed
// CLI contract: buffer sizes, rate limits, timeouts, observability.
// Parsed from the environment (and an optional .env file) the way the
// teacher's Config/LoadConfig pair does it.
type OperatorConfig struct {
	MetricsAddr string `env:"BROKER_METRICS_ADDR" envDefault:":9090"`

	EventQueueDepth int `env:"BROKER_EVENT_QUEUE_DEPTH" envDefault:"1024"`

	// Rate limits (see internal/broker/limits). Burst is the bucket
	// capacity, RatePerSec the sustained refill rate.
	SubscribeBurst      int `env:"BROKER_SUBSCRIBE_BURST" envDefault:"20"`
	SubscribeRatePerSec int `env:"BROKER_SUBSCRIBE_RATE" envDefault:"5"`
	DatagramBurst       int `env:"BROKER_DATAGRAM_BURST" envDefault:"2000"`
	DatagramRatePerSec  int `env:"BROKER_DATAGRAM_RATE" envDefault:"500"`

	ControlWriteTimeout time.Duration `env:"BROKER_CONTROL_WRITE_TIMEOUT" envDefault:"5s"`
	ControlReadTimeout  time.Duration `env:"BROKER_CONTROL_READ_TIMEOUT" envDefault:"0s"`

	MetricsSampleInterval time.Duration `env:"BROKER_METRICS_SAMPLE_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"BROKER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BROKER_LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if present) then the process environment into an
// OperatorConfig, applying defaults for anything unset. Priority: env vars
// > .env file > struct defaults, matching the teacher's LoadConfig.
func Load(logger *zerolog.Logger) (*OperatorConfig, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &OperatorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse operator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate operator config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings that would make the broker unable to start.
func (c *OperatorConfig) Validate() error {
	if c.EventQueueDepth < 1 {
		return fmt.Errorf("BROKER_EVENT_QUEUE_DEPTH must be > 0, got %d", c.EventQueueDepth)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("BROKER_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("BROKER_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}
	return nil
}

// LogConfig logs the resolved configuration once at startup.
func (c *OperatorConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("metrics_addr", c.MetricsAddr).
		Int("event_queue_depth", c.EventQueueDepth).
		Int("subscribe_burst", c.SubscribeBurst).
		Int("subscribe_rate_per_sec", c.SubscribeRatePerSec).
		Int("datagram_burst", c.DatagramBurst).
		Int("datagram_rate_per_sec", c.DatagramRatePerSec).
		Dur("control_write_timeout", c.ControlWriteTimeout).
		Dur("metrics_sample_interval", c.MetricsSampleInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("broker configuration loaded")
}
