package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Replication sinks
const (
	SinkNone     = "none"
	SinkS3       = "s3"
	SinkPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	IsLambda      bool

	// AWS configuration
	AWSRegion              string
	DynamoDBEndpoint       string
	TableName              string
	EntityReplicationIndex string
	MutualReplicationIndex string
	EventBusName           string
	EventSource            string
	DLQURL                 string

	// Prejoin hop cache. An empty address selects the in-process cache.
	RedisAddr       string
	PrejoinCacheTTL time.Duration

	// Replication
	ReplicationSink      string
	ReplicationBucket    string
	ReplicationPrefix    string
	ReplicationDSNSecret string
	ReplicationTable     string

	// Entity definitions
	EntityConfigPath string

	// Logging
	LogLevel string

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	OTLPEndpoint  string
	MetricsPrefix string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		IsLambda:      getEnv("AWS_LAMBDA_FUNCTION_NAME", "") != "",

		AWSRegion:              getEnv("AWS_REGION", "us-east-1"),
		DynamoDBEndpoint:       getEnv("DYNAMODB_ENDPOINT", ""),
		TableName:              getEnv("TABLE_NAME", "monorise-core"),
		EntityReplicationIndex: getEnv("ENTITY_REPLICATION_INDEX", "entity-replication"),
		MutualReplicationIndex: getEnv("MUTUAL_REPLICATION_INDEX", "mutual-replication"),
		EventBusName:           getEnv("EVENT_BUS_NAME", "monorise-core-bus"),
		EventSource:            getEnv("EVENT_SOURCE", "monorise.core"),
		DLQURL:                 getEnv("DLQ_URL", ""),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		PrejoinCacheTTL: getEnvDuration("PREJOIN_CACHE_TTL", 5*time.Minute),

		ReplicationSink:      getEnv("REPLICATION_SINK", SinkNone),
		ReplicationBucket:    getEnv("REPLICATION_BUCKET", ""),
		ReplicationPrefix:    getEnv("REPLICATION_PREFIX", "replication"),
		ReplicationDSNSecret: getEnv("REPLICATION_DSN_SECRET", ""),
		ReplicationTable:     getEnv("REPLICATION_TABLE", "monorise_items"),

		EntityConfigPath: getEnv("ENTITY_CONFIG_PATH", "config/entities.yaml"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsPrefix: getEnv("METRICS_NAMESPACE", "Monorise"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("TABLE_NAME is required")
	}
	if c.EntityReplicationIndex == "" || c.MutualReplicationIndex == "" {
		return fmt.Errorf("ENTITY_REPLICATION_INDEX and MUTUAL_REPLICATION_INDEX are required")
	}
	if c.PrejoinCacheTTL < 0 {
		return fmt.Errorf("PREJOIN_CACHE_TTL must not be negative")
	}

	switch c.ReplicationSink {
	case SinkNone, "":
	case SinkS3:
		if c.ReplicationBucket == "" {
			return fmt.Errorf("REPLICATION_BUCKET is required for the s3 sink")
		}
	case SinkPostgres:
		if c.ReplicationDSNSecret == "" {
			return fmt.Errorf("REPLICATION_DSN_SECRET is required for the postgres sink")
		}
	default:
		return fmt.Errorf("REPLICATION_SINK must be one of none, s3, postgres: got %q", c.ReplicationSink)
	}

	if c.IsProduction() {
		if c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
		if c.DynamoDBEndpoint != "" {
			return fmt.Errorf("DYNAMODB_ENDPOINT must not be set in production")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
