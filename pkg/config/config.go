package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage driver names accepted by STORAGE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all configuration for the ops ledger service
type Config struct {
	// Server Configuration
	ListenAddr string

	// Storage Configuration
	StorageDriver       string
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	SQLitePath          string

	// Signing Key Configuration
	// Base64 of the 32-byte Ed25519 seed. Loaded once; never logged.
	SigningKeyB64 string

	// Registry Configuration
	// Path to the event-type policy YAML; empty uses the embedded table.
	RegistryPath string

	// Outbox Dispatcher
	OutboxInterval  time.Duration
	OutboxBatchSize int

	// Dev-mode auth context. Real deployments put tenant/role/emitter into
	// the request headers from the auth proxy; these fill in when the
	// headers are absent and AllowDevAuth is true.
	AllowDevAuth bool
	DevTenantID  string
	DevRole      string
	DevEmitterID string

	// Service Configuration
	LogLevel string
}

// Load reads configuration from environment variables.
//
// SECURITY: OPS_ED25519_PRIVATE_KEY_B64 has no default and must be set.
// Call Validate() after Load() before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),

		StorageDriver:       getEnv("STORAGE_DRIVER", DriverPostgres),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		SQLitePath:          getEnv("SQLITE_PATH", "proveniq-ops.db"),

		SigningKeyB64: getEnv("OPS_ED25519_PRIVATE_KEY_B64", ""),

		RegistryPath: getEnv("OPS_REGISTRY_PATH", ""),

		OutboxInterval:  getEnvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 100),

		AllowDevAuth: getEnvBool("ALLOW_DEV_AUTH", false),
		DevTenantID:  getEnv("DEV_TENANT_ID", "dev-entity"),
		DevRole:      getEnv("DEV_ROLE", "ADMIN"),
		DevEmitterID: getEnv("DEV_EMITTER_ID", "dev-emitter"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.SigningKeyB64 == "" {
		errs = append(errs, "OPS_ED25519_PRIVATE_KEY_B64 is required but not set")
	}

	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
		// nothing to check; data is gone on restart
	default:
		errs = append(errs, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	if c.OutboxBatchSize < 1 {
		errs = append(errs, "OUTBOX_BATCH_SIZE must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
