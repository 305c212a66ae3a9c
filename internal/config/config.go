package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Registry    RegistryConfig
	Measurement MeasurementConfig
	Sync        SyncConfig
	Correlation CorrelationConfig
	Scheduler   SchedulerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                    string
	CommandExchange        string
	CommandRoutingKey      string
	ConfirmationExchange   string
	ConfirmationQueue      string
	ConfirmationRoutingKey string
	DLQQueue               string
	PrefetchCount          int
}

// RegistryConfig holds settings for the customer-relation registry client
type RegistryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// MeasurementConfig holds settings for the measurement source client
type MeasurementConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SyncConfig holds measurement synchronization settings.
//
// MinimumAgeHours has no default on purpose: an implicit value would
// silently change which periods are eligible for issuance. Zero is a
// legal, explicit choice meaning "no age buffer".
type SyncConfig struct {
	MinimumAgeHours int
	CatchUp         bool
	Parallelism     int
	DispatchBatch   int
}

// CorrelationConfig holds confirmation lookup retry settings
type CorrelationConfig struct {
	LookupAttempts int
	LookupDelay    time.Duration
}

// SchedulerConfig holds scheduler cadence settings
type SchedulerConfig struct {
	// Mode is "hourly" (sleep until the next hour boundary) or "interval".
	Mode     string
	Interval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "certificate-issuance-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                    getEnv("RABBITMQ_URL", ""),
			CommandExchange:        getEnv("RABBITMQ_COMMAND_EXCHANGE", "certificate-issuance.commands.exchange"),
			CommandRoutingKey:      getEnv("RABBITMQ_COMMAND_ROUTING_KEY", "registry.certificate.issue"),
			ConfirmationExchange:   getEnv("RABBITMQ_CONFIRMATION_EXCHANGE", "certificate-issuance.confirmations.exchange"),
			ConfirmationQueue:      getEnv("RABBITMQ_CONFIRMATION_QUEUE", "certificate-issuance.confirmations.queue"),
			ConfirmationRoutingKey: getEnv("RABBITMQ_CONFIRMATION_ROUTING_KEY", "registry.certificate.confirmed"),
			DLQQueue:               getEnv("RABBITMQ_DLQ_QUEUE", "certificate-issuance.confirmations.dlq"),
			PrefetchCount:          getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Registry: RegistryConfig{
			BaseURL: getEnv("RELATION_REGISTRY_URL", ""),
			Timeout: getEnvAsDuration("RELATION_REGISTRY_TIMEOUT", 10*time.Second),
		},
		Measurement: MeasurementConfig{
			BaseURL: getEnv("MEASUREMENT_SOURCE_URL", ""),
			Timeout: getEnvAsDuration("MEASUREMENT_SOURCE_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			CatchUp:       getEnvAsBool("SYNC_CATCH_UP", false),
			Parallelism:   getEnvAsInt("SYNC_PARALLELISM", 8),
			DispatchBatch: getEnvAsInt("SYNC_DISPATCH_BATCH", 100),
		},
		Correlation: CorrelationConfig{
			LookupAttempts: getEnvAsInt("CORRELATION_LOOKUP_ATTEMPTS", 10),
			LookupDelay:    getEnvAsDuration("CORRELATION_LOOKUP_DELAY", time.Second),
		},
		Scheduler: SchedulerConfig{
			Mode:     getEnv("SCHEDULER_MODE", "hourly"),
			Interval: getEnvAsDuration("SCHEDULER_INTERVAL", time.Hour),
		},
	}

	minimumAge, err := requireEnvAsInt("SYNC_MINIMUM_AGE_HOURS")
	if err != nil {
		return nil, err
	}
	if minimumAge < 0 {
		return nil, fmt.Errorf("SYNC_MINIMUM_AGE_HOURS must be non-negative, got %d", minimumAge)
	}
	cfg.Sync.MinimumAgeHours = minimumAge

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Registry.BaseURL == "" {
		return nil, fmt.Errorf("RELATION_REGISTRY_URL is required but not set in environment variables")
	}
	if cfg.Measurement.BaseURL == "" {
		return nil, fmt.Errorf("MEASUREMENT_SOURCE_URL is required but not set in environment variables")
	}
	if cfg.Scheduler.Mode != "hourly" && cfg.Scheduler.Mode != "interval" {
		return nil, fmt.Errorf("SCHEDULER_MODE must be 'hourly' or 'interval', got %q", cfg.Scheduler.Mode)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func requireEnvAsInt(key string) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return 0, fmt.Errorf("%s is required but not set in environment variables", key)
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, valueStr)
	}
	return value, nil
}
