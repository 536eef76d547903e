// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Database drivers understood by the store factory.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Host string `env:"LOOTFAN_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"LOOTFAN_PORT" envDefault:"8080"`

	DBDriver      string `env:"LOOTFAN_DB_DRIVER" envDefault:"memory"`
	DBDSN         string `env:"LOOTFAN_DB_DSN"`
	DBAutoMigrate bool   `env:"LOOTFAN_DB_AUTO_MIGRATE" envDefault:"true"`

	CatalogDir string `env:"LOOTFAN_CATALOG_DIR"`

	PlatformFeeRate  float64 `env:"LOOTFAN_PLATFORM_FEE_RATE" envDefault:"0.10"`
	BonusProbability float64 `env:"LOOTFAN_BONUS_PROBABILITY" envDefault:"0.20"`
	ConflictRetries  uint    `env:"LOOTFAN_CONFLICT_RETRIES" envDefault:"5"`

	RevealTTL       time.Duration `env:"LOOTFAN_REVEAL_TTL" envDefault:"10m"`
	JanitorInterval time.Duration `env:"LOOTFAN_JANITOR_INTERVAL" envDefault:"1m"`

	// PaymentDeclineAbove makes the simulated processor decline any charge
	// above this amount. Zero disables declines.
	PaymentDeclineAbove float64 `env:"LOOTFAN_PAYMENT_DECLINE_ABOVE" envDefault:"0"`

	LogVerbose bool `env:"LOOTFAN_LOG_VERBOSE" envDefault:"false"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks semantic constraints the env tags cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("config: LOOTFAN_DB_DSN is required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("config: unknown LOOTFAN_DB_DRIVER %q", c.DBDriver)
	}
	if c.PlatformFeeRate < 0 || c.PlatformFeeRate >= 1 {
		return fmt.Errorf("config: LOOTFAN_PLATFORM_FEE_RATE must be in [0,1), got %v", c.PlatformFeeRate)
	}
	if c.BonusProbability < 0 || c.BonusProbability > 1 {
		return fmt.Errorf("config: LOOTFAN_BONUS_PROBABILITY must be in [0,1], got %v", c.BonusProbability)
	}
	if c.ConflictRetries == 0 {
		return fmt.Errorf("config: LOOTFAN_CONFLICT_RETRIES must be >= 1")
	}
	if c.RevealTTL <= 0 || c.JanitorInterval <= 0 {
		return fmt.Errorf("config: reveal TTL and janitor interval must be positive")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FeeRate returns the default platform fee rate as a decimal.
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.PlatformFeeRate)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
