// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/psinet/trustd/internal/credits"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Engine settings
	MinStake          string // Minimum stake for staked feedback, in credits (e.g. "1.000000")
	TreasuryPrincipal string // Recipient of slashed stakes

	// Identity directory
	IdentityURL string // External identity service base URL (optional, uses in-memory if not set)

	// Security
	AdminSecret    string // Secret for issuing API keys and bootstrap admin actions
	RootPrincipal  string // Principal granted ADMIN and DISPUTE_RESOLVER at startup
	RateLimitRPM   int    // Requests per minute per client
	AllowedOrigins string // Comma-separated CORS origins ("*" for all)

	// Score attestations
	ScoreSigningSecret string // HMAC key for signed score responses (optional, disables signing if unset)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for tracing (optional)
}

// Defaults
const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultMinStake  = "1.000000"
	DefaultTreasury  = "treasury"
	DefaultRateLimit = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		MinStake:           getEnv("MIN_STAKE", DefaultMinStake),
		TreasuryPrincipal:  getEnv("TREASURY_PRINCIPAL", DefaultTreasury),
		IdentityURL:        os.Getenv("IDENTITY_URL"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RootPrincipal:      os.Getenv("ROOT_PRINCIPAL"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		ScoreSigningSecret: os.Getenv("SCORE_SIGNING_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and well-formed.
func (c *Config) Validate() error {
	if amt, ok := credits.Parse(c.MinStake); !ok || amt.Sign() < 0 {
		return fmt.Errorf("MIN_STAKE must be a non-negative credit amount, got %q", c.MinStake)
	}

	if c.TreasuryPrincipal == "" {
		return fmt.Errorf("TREASURY_PRINCIPAL must not be empty")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
