// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Registration is gated by a single shared secret distributed out-of-band.
	BootstrapKey string `env:"BOOTSTRAP_KEY,required,notEmpty"`

	// Key issuance
	KeyTTL        time.Duration `env:"KEY_TTL" envDefault:"8760h"`
	HashAlgorithm string        `env:"HASH_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`

	// Authentication
	AuthCacheEnabled bool          `env:"AUTH_CACHE_ENABLED" envDefault:"false"`
	AuthCacheTTL     time.Duration `env:"AUTH_CACHE_TTL" envDefault:"5m"`
	AuthMinDuration  time.Duration `env:"AUTH_MIN_DURATION" envDefault:"0s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting for POST /users, per client IP
	RateLimitRegisterEnabled bool `env:"RATE_LIMIT_REGISTER_ENABLED" envDefault:"true"`
	RateLimitRegisterRPS     int  `env:"RATE_LIMIT_REGISTER_RPS" envDefault:"1"`
	RateLimitRegisterBurst   int  `env:"RATE_LIMIT_REGISTER_BURST" envDefault:"5"`

	// Request body size limit in bytes (default 64KB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	if c.KeyTTL <= 0 {
		return errors.New("KEY_TTL must be positive")
	}
	switch c.HashAlgorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("HASH_ALGORITHM must be bcrypt or argon2id, got %q", c.HashAlgorithm)
	}
	if c.HashAlgorithm == "bcrypt" && (c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	if c.AuthCacheEnabled && c.AuthCacheTTL <= 0 {
		return errors.New("AUTH_CACHE_TTL must be positive when the auth cache is enabled")
	}
	if c.RateLimitRegisterEnabled && (c.RateLimitRegisterRPS <= 0 || c.RateLimitRegisterBurst <= 0) {
		return errors.New("RATE_LIMIT_REGISTER_RPS and RATE_LIMIT_REGISTER_BURST must be positive")
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
