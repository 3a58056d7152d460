// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBDriver selects the store: sqlite, postgres or memory.
	DBDriver string `koanf:"db_driver"`

	// DBPath is the SQLite database file.
	DBPath string `koanf:"db_path"`

	// PostgresURL is the pgx connection string used when DBDriver is postgres.
	PostgresURL string `koanf:"postgres_url"`

	// MaxRecalculationBatch caps the activities one activation may update.
	// Zero disables the cap.
	MaxRecalculationBatch int `koanf:"max_recalculation_batch"`

	// ImpactTopN is how many participants an impact report ranks.
	ImpactTopN int `koanf:"impact_top_n"`

	// AuditInterval is how often totals are checked for drift. Zero disables.
	AuditInterval time.Duration `koanf:"audit_interval"`

	// CORSOrigins lists origins allowed to call the API.
	CORSOrigins []string `koanf:"cors_origins"`

	// MetricsEnabled toggles Prometheus collection and /metrics.
	MetricsEnabled bool `koanf:"metrics_enabled"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":8080",
		DBDriver:              DriverSQLite,
		DBPath:                "points.db",
		MaxRecalculationBatch: 5000,
		ImpactTopN:            10,
		AuditInterval:         time.Hour,
		CORSOrigins:           []string{"http://localhost:3000", "http://localhost:5173"},
		MetricsEnabled:        true,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db_path must not be empty for sqlite", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: postgres_url must not be empty for postgres", ErrInvalidConfig)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown db_driver %q", ErrInvalidConfig, c.DBDriver)
	}
	if c.MaxRecalculationBatch < 0 {
		return fmt.Errorf("%w: max_recalculation_batch must not be negative", ErrInvalidConfig)
	}
	if c.ImpactTopN <= 0 {
		return fmt.Errorf("%w: impact_top_n must be positive", ErrInvalidConfig)
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("%w: audit_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}
