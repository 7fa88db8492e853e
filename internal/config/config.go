package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// PingOne API configuration
	PingOne PingOneConfig

	// Bulk operation configuration
	Operations OperationsConfig

	// Logging configuration
	Log LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// PingOneConfig holds identity-provider endpoint settings.
// APIBase and AuthBase are bases, not full URLs: the environment id is
// appended per request, so one process can serve multiple environments.
type PingOneConfig struct {
	APIBase        string
	AuthBase       string
	RequestTimeout time.Duration
	TokenTTL       time.Duration // fallback when the token endpoint omits expires_in
	TokenBuffer    time.Duration // reuse window safety margin
	MaxRetries     int           // retries on 429/5xx; 0 disables retry
	RetryInterval  time.Duration // initial backoff interval when retrying
}

// OperationsConfig holds batch orchestration settings
type OperationsConfig struct {
	BatchSize       int           // records per sub-batch
	BatchDelay      time.Duration // pause between sub-batches (remote rate-limit backpressure)
	MaxRecords      int           // upper bound on records per request
	ProgressBacklog int           // per-subscriber progress channel buffer
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string // "json" or "pretty"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "4000"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 300*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		PingOne: PingOneConfig{
			APIBase:        getEnv("PINGONE_API_BASE", "https://api.pingone.com/v1"),
			AuthBase:       getEnv("PINGONE_AUTH_BASE", "https://auth.pingone.com"),
			RequestTimeout: getDurationEnv("PINGONE_REQUEST_TIMEOUT", 10*time.Second),
			TokenTTL:       getDurationEnv("PINGONE_TOKEN_TTL", 55*time.Minute),
			TokenBuffer:    getDurationEnv("PINGONE_TOKEN_BUFFER", 5*time.Minute),
			MaxRetries:     getIntEnv("PINGONE_MAX_RETRIES", 0),
			RetryInterval:  getDurationEnv("PINGONE_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Operations: OperationsConfig{
			BatchSize:       getIntEnv("OPERATION_BATCH_SIZE", 10),
			BatchDelay:      getDurationEnv("OPERATION_BATCH_DELAY", 200*time.Millisecond),
			MaxRecords:      getIntEnv("OPERATION_MAX_RECORDS", 10000),
			ProgressBacklog: getIntEnv("PROGRESS_BACKLOG", 64),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PingOne.APIBase == "" {
		return fmt.Errorf("PINGONE_API_BASE is required")
	}
	if c.PingOne.AuthBase == "" {
		return fmt.Errorf("PINGONE_AUTH_BASE is required")
	}
	if c.Operations.BatchSize < 1 {
		return fmt.Errorf("OPERATION_BATCH_SIZE must be at least 1")
	}
	if c.PingOne.TokenBuffer >= c.PingOne.TokenTTL {
		return fmt.Errorf("PINGONE_TOKEN_BUFFER must be smaller than PINGONE_TOKEN_TTL")
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

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
