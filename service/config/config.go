// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Aleo configuration
	RPCURL      string
	ExplorerURL string
	ChainID     string

	// Wallet bridge configuration
	WalletBridgeURL string

	// NATS configuration
	NATSURL string

	// Transaction fee configuration, in smallest units of the fee token.
	Fee        uint64
	FeePrivate bool

	// Reconciliation configuration
	RecordPollInterval time.Duration
	ConfirmationBudget time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Aleo configuration
	cfg.RPCURL = os.Getenv("ALEO_RPC_URL")
	if cfg.RPCURL == "" {
		errs = append(errs, fmt.Errorf("ALEO_RPC_URL is required"))
	}

	cfg.ExplorerURL = os.Getenv("ALEO_EXPLORER_URL")
	if cfg.ExplorerURL == "" {
		errs = append(errs, fmt.Errorf("ALEO_EXPLORER_URL is required"))
	}

	cfg.ChainID = getEnvOrDefault("ALEO_CHAIN_ID", "testnetbeta")

	// Wallet bridge configuration
	cfg.WalletBridgeURL = os.Getenv("WALLET_BRIDGE_URL")
	if cfg.WalletBridgeURL == "" {
		errs = append(errs, fmt.Errorf("WALLET_BRIDGE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Fee configuration
	fee, err := parseUint("TRANSACTION_FEE", 50000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Fee = fee
	}
	cfg.FeePrivate = getEnvOrDefault("FEE_PRIVATE", "false") == "true"

	// Reconciliation configuration
	recordInterval, err := parseDuration("RECORD_POLL_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RecordPollInterval = recordInterval
	}

	budget, err := parseDuration("CONFIRMATION_BUDGET", "180s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmationBudget = budget
	}

	// Validate intervals
	if cfg.RecordPollInterval >= cfg.ConfirmationBudget && cfg.RecordPollInterval > 0 && cfg.ConfirmationBudget > 0 {
		errs = append(errs, fmt.Errorf("RECORD_POLL_INTERVAL (%v) must be shorter than CONFIRMATION_BUDGET (%v)",
			cfg.RecordPollInterval, cfg.ConfirmationBudget))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}

	if c.ExplorerURL == "" {
		errs = append(errs, fmt.Errorf("ExplorerURL is required"))
	}

	if c.ChainID == "" {
		errs = append(errs, fmt.Errorf("ChainID is required"))
	}

	if c.WalletBridgeURL == "" {
		errs = append(errs, fmt.Errorf("WalletBridgeURL is required"))
	}

	if c.RecordPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("RecordPollInterval must be at least 1 second"))
	}

	if c.ConfirmationBudget <= c.RecordPollInterval {
		errs = append(errs, fmt.Errorf("ConfirmationBudget must be longer than RecordPollInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
