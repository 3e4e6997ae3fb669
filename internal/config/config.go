// Package config loads broker settings from the environment, optionally
// seeded from a .env file. Command-line flags layered on top in main take
// precedence over everything here.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix namespaces the broker's environment variables, e.g.
// BROKER_LISTEN_ADDR.
const Prefix = "broker"

// Config holds every runtime setting for the broker.
type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	HistoryDSN      string        `envconfig:"HISTORY_DSN" default:":memory:"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"64"`
	Debug           bool          `envconfig:"DEBUG" default:"false"`
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"1m"`
}

// Load reads a .env file when one exists, then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive, got %s", c.MetricsInterval)
	}
	return nil
}
