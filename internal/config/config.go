package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all process configuration. Every value that used to be
// process-wide state (lock server address, retry budgets, directories)
// is carried here and passed into constructors.
type Config struct {
	// Lock server
	LockHost    string
	LockPort    int
	LockRetry   int
	LockTimeout time.Duration

	// File locations
	DataDirectory   string
	LedgerDirectory string
	QueueName       string

	// Lock server daemon
	LockStorePath string
	MetricsPort   string

	// Intake HTTP server
	HTTPPort       string
	JWTSecret      string
	IdentityKey    string
	IdentitySecret string

	// Monitor
	MonitorSchedule string
	MonitorExpire   int
}

// Load reads configuration from environment variables with defaults
// matching the deployed relay's conventions.
func Load() *Config {
	return &Config{
		LockHost:    getEnv("LOCK_HOST", ""),
		LockPort:    getIntEnv("LOCK_PORT", 37373),
		LockRetry:   getIntEnv("LOCK_RETRY", 7),
		LockTimeout: getDurationEnv("LOCK_TIMEOUT_SEC", 300) * time.Second,

		DataDirectory:   getEnv("DATA_DIRECTORY", "Data"),
		LedgerDirectory: getEnv("LEDGER_DIRECTORY", "Ledger"),
		QueueName:       getEnv("QUEUE_NAME", "orders"),

		LockStorePath: getEnv("LOCK_STORE_PATH", "locker.db"),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),

		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		JWTSecret:      getEnv("JWT_SECRET", "relay-secret-key"),
		IdentityKey:    getEnv("INTAKE_IDENTITY_KEY", "relay-test-key"),
		IdentitySecret: getEnv("INTAKE_IDENTITY_SECRET", "relay-test-secret"),

		MonitorSchedule: getEnv("MONITOR_SCHEDULE", "@every 1m"),
		MonitorExpire:   getIntEnv("MONITOR_LOCK_EXPIRE_SEC", 300),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Warn().Str("key", key).Int("default", defaultValue).Msg("invalid integer value, using default")
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Warn().Str("key", key).Int("default", defaultValue).Msg("invalid duration value, using default")
	}
	return time.Duration(defaultValue)
}
