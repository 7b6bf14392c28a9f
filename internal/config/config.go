// Package config provides configuration management for the ERP sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/erp-sync/internal/types"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Lock      LockConfig
	Watchdog  WatchdogConfig
	RateLimit RateLimitConfig
	ERP       ERPConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SyncConfig holds sync state-machine configuration
type SyncConfig struct {
	// StaleThreshold is how long an in-progress run may go without a status
	// update before it is flagged as stale
	StaleThreshold time.Duration
	// BatchSizes holds the default batch size per entity type
	BatchSizes map[types.EntityType]int
	// CancelFlagTTL is the lifetime of the fast cancellation slot
	CancelFlagTTL time.Duration
	// HeartbeatInterval is how often the worker refreshes lock liveness
	HeartbeatInterval time.Duration
}

// LockConfig holds lock manager configuration
type LockConfig struct {
	// TTL is the initial lock lifetime on acquisition
	TTL time.Duration
	// ExtendThreshold triggers an extension when remaining lifetime drops below it
	ExtendThreshold time.Duration
	// Extension is the amount added when a lock is extended
	Extension time.Duration
}

// WatchdogConfig holds the proactive consistency watchdog configuration
type WatchdogConfig struct {
	Interval         time.Duration
	HistoryRetention time.Duration
	StagingRetention time.Duration
}

// ERPConfig holds the endpoints the worker fetches batches from
type ERPConfig struct {
	// VerialBaseURL is the ERP web-service base URL
	VerialBaseURL string
	// VerialSessionID authenticates ERP requests
	VerialSessionID string
	// WooBaseURL is the store REST API base URL
	WooBaseURL string
	// WooKey and WooSecret authenticate store requests
	WooKey    string
	WooSecret string
	// RequestTimeout bounds each fetch request
	RequestTimeout time.Duration
}

// RateLimitConfig holds admin API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "erp_sync"),
				User:           getEnv("POSTGRES_USER", "sync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "erp_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Sync: SyncConfig{
			StaleThreshold: getEnvAsDuration("SYNC_STALE_THRESHOLD", time.Hour),
			BatchSizes: map[types.EntityType]int{
				types.EntityProducts: getEnvAsInt("SYNC_BATCH_SIZE_PRODUCTS", 50),
				types.EntityOrders:   getEnvAsInt("SYNC_BATCH_SIZE_ORDERS", 50),
			},
			CancelFlagTTL:     getEnvAsDuration("SYNC_CANCEL_FLAG_TTL", 5*time.Minute),
			HeartbeatInterval: getEnvAsDuration("SYNC_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		Lock: LockConfig{
			TTL:             getEnvAsDuration("LOCK_TTL", time.Hour),
			ExtendThreshold: getEnvAsDuration("LOCK_EXTEND_THRESHOLD", 5*time.Minute),
			Extension:       getEnvAsDuration("LOCK_EXTENSION", time.Hour),
		},
		Watchdog: WatchdogConfig{
			Interval:         getEnvAsDuration("WATCHDOG_INTERVAL", 5*time.Minute),
			HistoryRetention: getEnvAsDuration("HISTORY_RETENTION", 30*24*time.Hour),
			StagingRetention: getEnvAsDuration("STAGING_RETENTION", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		ERP: ERPConfig{
			VerialBaseURL:   getEnv("VERIAL_BASE_URL", ""),
			VerialSessionID: getEnv("VERIAL_SESSION_ID", ""),
			WooBaseURL:      getEnv("WOO_BASE_URL", ""),
			WooKey:          getEnv("WOO_KEY", ""),
			WooSecret:       getEnv("WOO_SECRET", ""),
			RequestTimeout:  getEnvAsDuration("ERP_REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// DefaultBatchSize returns the configured default batch size for an entity.
// Unknown entities fall back to 50.
func (c *SyncConfig) DefaultBatchSize(entity types.EntityType) int {
	if size, ok := c.BatchSizes[entity]; ok && size > 0 {
		return size
	}
	return 50
}

// PostgresURL builds a migrate-compatible connection URL
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
