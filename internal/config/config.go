// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Money rules
	MinWithdrawal      decimal.Decimal // minimum payout request, in rupees
	TDSRate            decimal.Decimal // withholding rate applied to payouts
	PlatformCommission decimal.Decimal // default campaign commission rate

	// External collaborators
	StripeAPIKey   string // transfer rail; empty = payouts stay pending in dev
	InsightsAPIURL string // view/like/comment metrics provider
	AdminSecret    string // Admin API secret

	// Background jobs
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	ExecutorInterval  time.Duration
	InsightsInterval  time.Duration
	ExecutorBatchSize int
	ProviderTimeout   time.Duration

	// HTTP
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultMinWithdrawal     = "100"
	DefaultTDSRate           = "0.10"
	DefaultCommission        = "0.15"
	DefaultSweepInterval     = 10 * time.Minute
	DefaultReconcileInterval = 15 * time.Minute
	DefaultExecutorInterval  = 5 * time.Minute
	DefaultInsightsInterval  = 30 * time.Minute
	DefaultExecutorBatch     = 25
	DefaultProviderTimeout   = 30 * time.Second
	DefaultRateLimitRPM      = 300
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	minWithdrawal, err := decimal.NewFromString(getEnv("MIN_WITHDRAWAL", DefaultMinWithdrawal))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_WITHDRAWAL: %w", err)
	}
	tdsRate, err := decimal.NewFromString(getEnv("TDS_RATE", DefaultTDSRate))
	if err != nil {
		return nil, fmt.Errorf("invalid TDS_RATE: %w", err)
	}
	commission, err := decimal.NewFromString(getEnv("PLATFORM_COMMISSION", DefaultCommission))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_COMMISSION: %w", err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		MinWithdrawal:      minWithdrawal,
		TDSRate:            tdsRate,
		PlatformCommission: commission,
		StripeAPIKey:       os.Getenv("STRIPE_API_KEY"),
		InsightsAPIURL:     os.Getenv("INSIGHTS_API_URL"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		SweepInterval:      getEnvDuration("FRAUD_SWEEP_INTERVAL", DefaultSweepInterval),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		ExecutorInterval:   getEnvDuration("PAYOUT_EXECUTOR_INTERVAL", DefaultExecutorInterval),
		InsightsInterval:   getEnvDuration("INSIGHTS_INTERVAL", DefaultInsightsInterval),
		ExecutorBatchSize:  int(getEnvInt64("PAYOUT_EXECUTOR_BATCH", DefaultExecutorBatch)),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MinWithdrawal.Sign() <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	if c.TDSRate.IsNegative() || c.TDSRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TDS_RATE must be in [0, 1)")
	}
	if c.PlatformCommission.IsNegative() || c.PlatformCommission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_COMMISSION must be in [0, 1)")
	}
	if c.ExecutorBatchSize <= 0 {
		return fmt.Errorf("PAYOUT_EXECUTOR_BATCH must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
