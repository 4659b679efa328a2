// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement chain settings. Settlement is optional: when PrivateKey is
	// empty, escrow releases are recorded off-chain only.
	RPCURL        string
	ChainID       int64
	PrivateKey    string // Hex-encoded, no 0x prefix
	VaultContract string

	// Trade lifecycle settings
	PaymentWindow      time.Duration // Seller payment confirmation deadline
	OrderTTL           time.Duration // Open order lifetime
	ExpiryScanInterval time.Duration // Trade expiry sweep cadence
	OrderScanInterval  time.Duration // Order expiry sweep cadence

	// Security
	RateLimitRPS int
	AdminSecret  string // Guards moderator endpoints

	// Observability
	OTLPEndpoint string // OTLP gRPC collector address (optional, disables tracing if unset)
}

// Base Sepolia defaults
const (
	DefaultRPCURL        = "https://sepolia.base.org"
	DefaultChainID       = 84532 // Base Sepolia
	DefaultVaultContract = "0x7A250dEc4D1dD6aB1e72fD9e5E8c1B3dF5c9A2e4"
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultRateLimit     = 100

	DefaultPaymentWindow      = 30 * time.Minute
	DefaultOrderTTL           = 24 * time.Hour
	DefaultExpiryScanInterval = 5 * time.Second
	DefaultOrderScanInterval  = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:         os.Getenv("PRIVATE_KEY"), // Optional, disables settlement if unset
		VaultContract:      getEnv("VAULT_CONTRACT", DefaultVaultContract),
		PaymentWindow:      getEnvDuration("PAYMENT_WINDOW", DefaultPaymentWindow),
		OrderTTL:           getEnvDuration("ORDER_TTL", DefaultOrderTTL),
		ExpiryScanInterval: getEnvDuration("EXPIRY_SCAN_INTERVAL", DefaultExpiryScanInterval),
		OrderScanInterval:  getEnvDuration("ORDER_SCAN_INTERVAL", DefaultOrderScanInterval),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SettlementEnabled reports whether on-chain settlement is configured.
func (c *Config) SettlementEnabled() bool {
	return c.PrivateKey != ""
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey != "" {
		// Allow both with and without 0x prefix
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when PRIVATE_KEY is set")
		}
	}

	if c.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW must be positive")
	}
	if c.OrderTTL <= 0 {
		return fmt.Errorf("ORDER_TTL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
