// Package config loads runtime configuration for the sessionkeeper CLI.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional JSON file (-c or -config), SK_ prefixed environment variables
// (a .env file in the working directory is loaded first if present), then
// command-line flags. The result is validated before use.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the CLI.
//
// IdleTimeout and WarningWindow drive the session liveness monitor: the
// warning banner appears after IdleTimeout-WarningWindow of inactivity.
type Config struct {
	ServerEndpointAddr string `env:"SERVER_ADDR" validate:"required"`
	DatabasePath       string `env:"CLIENT_DB" validate:"required"`

	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" validate:"gt=0"`
	WarningWindow time.Duration `env:"WARNING_WINDOW" validate:"gt=0,ltfield=IdleTimeout"`

	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DatabasePath = "session.db"
	c.IdleTimeout = 30 * time.Minute
	c.WarningWindow = 2 * time.Minute
	c.LogLevel = "warn"
}

// Validate checks field constraints after all sources have been applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
