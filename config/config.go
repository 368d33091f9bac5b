// Package config loads runtime configuration from environment variables and
// an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration. Every field maps 1:1 to an env var.
type Config struct {
	// Server
	Port           int           `mapstructure:"PORT"`
	Env            string        `mapstructure:"APP_ENV"` // development | production
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`

	// Database
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"` // sqlite3 | postgres
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	WriteRetries   int    `mapstructure:"WRITE_RETRIES"`

	// Redis receipt allocator; empty uses the database counter
	RedisURL string `mapstructure:"REDIS_URL"`

	// Auth; empty trusts the X-Actor-ID header
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// Audit sweep; zero interval disables the scheduler
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepRepair   bool          `mapstructure:"SWEEP_REPAIR"`

	// School
	Branches   []string `mapstructure:"BRANCHES"`
	SchoolName string   `mapstructure:"SCHOOL_NAME"`

	// Demo data routes, which wipe the ledger. Off in production unless set.
	EnableScenarios bool `mapstructure:"ENABLE_SCENARIOS"`
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Sensible defaults for development
	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("DATABASE_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "fees.db")
	v.SetDefault("WRITE_RETRIES", 3)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_REPAIR", false)
	v.SetDefault("BRANCHES", "boys,girls")
	v.SetDefault("SCHOOL_NAME", "School Fee Office")

	// Optional .env file for local development, ignored when missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// No default: unset follows APP_ENV.
	if v.IsSet("ENABLE_SCENARIOS") {
		cfg.EnableScenarios = v.GetBool("ENABLE_SCENARIOS")
	} else {
		cfg.EnableScenarios = !cfg.IsProduction()
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.Branches = splitList(cfg.Branches)
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("config: DATABASE_DRIVER must be sqlite3 or postgres, got %q", c.DatabaseDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	if c.WriteRetries < 0 {
		return fmt.Errorf("config: WRITE_RETRIES must not be negative")
	}
	if len(c.Branches) == 0 {
		return fmt.Errorf("config: BRANCHES must name at least one branch")
	}
	return nil
}

// IsProduction reports APP_ENV=production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// splitList normalises comma-separated values that arrive as one element.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
