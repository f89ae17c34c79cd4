// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; in-memory stores are used when unset)
	DatabaseURL string

	// Consumption policy
	LowBalanceThreshold decimal.Decimal // personal balance warning floor, whole credits
	RecordFreeUsage     bool            // append zero-valued usage transactions for free features

	// HTTP
	RateLimitRPM int
	CORSOrigins  string

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultRateLimitRPM = 300
)

// DefaultLowBalanceThreshold is the personal-wallet warning floor in
// whole credits.
var DefaultLowBalanceThreshold = decimal.NewFromInt(10)

// Load reads configuration from environment variables. A .env file is
// loaded first when present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		LowBalanceThreshold: DefaultLowBalanceThreshold,
		RecordFreeUsage:     getEnvBool("RECORD_FREE_USAGE", false),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSOrigins:         getEnv("CORS_ORIGINS", "*"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if v := os.Getenv("LOW_BALANCE_THRESHOLD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("LOW_BALANCE_THRESHOLD must be a non-negative number, got %q", v)
		}
		cfg.LowBalanceThreshold = d
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
