/*
Package config loads server configuration from the environment.

PURPOSE:
  One typed struct for everything the server needs at startup. Values come
  from process environment variables, optionally seeded from a .env file in
  the working directory. Command-line flags in cmd/server override PORT and
  DB_PATH.

ENVIRONMENT:
  PORT                HTTP server port (default: 8080)
  DB_PATH             SQLite database path (default: maintenance.db)
  JWT_SECRET          HS256 secret for bearer tokens (required)
  TIMEZONE            Society time zone for due dates (default: UTC)
  PAYMENT_TOLERANCE   Rounding margin when comparing paid vs owed (default: 0.01)
  SCHEDULER_ENABLED   Run background generation/refresh (default: false)
  SCHEDULER_INTERVAL  Scheduler tick (default: 1h)
  CORS_ORIGINS        Comma-separated allowed origins
  SCENARIOS_ENABLED   Mount the demo scenario routes (default: false; dev only)

SEE ALSO:
  - cmd/server/main.go: Uses Load
  - billing/types.go: billing.Config
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// Config is the server configuration.
type Config struct {
	Port              int           `env:"PORT" envDefault:"8080"`
	DBPath            string        `env:"DB_PATH" envDefault:"maintenance.db"`
	JWTSecret         string        `env:"JWT_SECRET"`
	Timezone          string        `env:"TIMEZONE" envDefault:"UTC"`
	PaymentTolerance  string        `env:"PAYMENT_TOLERANCE" envDefault:"0.01"`
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"false"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`
	CORSOrigins       []string      `env:"CORS_ORIGINS" envSeparator:","`
	ScenariosEnabled  bool          `env:"SCENARIOS_ENABLED" envDefault:"false"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be within 1-65535, got %d", c.Port)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	tol, err := generic.ParseAmount(c.PaymentTolerance)
	if err != nil {
		return fmt.Errorf("PAYMENT_TOLERANCE: %w", err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("PAYMENT_TOLERANCE must not be negative, got %s", tol)
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %v", c.SchedulerInterval)
	}
	return nil
}

// BillingConfig returns the numeric and calendar policy for the billing
// services. Call after Validate.
func (c Config) BillingConfig() billing.Config {
	cfg := billing.DefaultConfig()
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		cfg.Location = loc
	}
	if tol, err := generic.ParseAmount(c.PaymentTolerance); err == nil {
		cfg.Tolerance = tol
	}
	return cfg
}
