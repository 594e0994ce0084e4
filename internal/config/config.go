// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion services
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	HL7      HL7Config      `yaml:"hl7"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Workers  WorkersConfig  `yaml:"workers"`
	Tracing  TracingConfig  `yaml:"tracing"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int               `yaml:"port"`
	APIKeys         map[string]string `yaml:"api_keys"`
	CORSOrigins     []string          `yaml:"cors_origins"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// KafkaConfig holds broker and topic configuration
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	ClientID          string   `yaml:"client_id"`
	ConsumerGroup     string   `yaml:"consumer_group"`
	InboundTopic      string   `yaml:"inbound_topic"`
	OrdersTopic       string   `yaml:"orders_topic"`
	DeadLetterTopic   string   `yaml:"dead_letter_topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

// RedisConfig holds the site cache connection
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HL7Config holds decoder settings
type HL7Config struct {
	TimeZone        string        `yaml:"time_zone"`
	LineBreakToken  string        `yaml:"line_break_token"`
	Sites           []string      `yaml:"sites"`
	SiteRefresh     time.Duration `yaml:"site_refresh"`
	SiteCacheTTL    time.Duration `yaml:"site_cache_ttl"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// OutboxConfig holds relay settings
type OutboxConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxRetries   int           `yaml:"max_retries"`
	Retention    time.Duration `yaml:"retention"`
}

// WorkersConfig holds consumer worker pool settings
type WorkersConfig struct {
	Count      int           `yaml:"count"`
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// TracingConfig holds OpenTelemetry export settings
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			MaxConnLifetime: time.Hour,
			Migrate:         true,
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			ClientID:          "rxhl7",
			ConsumerGroup:     "hl7-consumer",
			InboundTopic:      "hl7.inbound",
			OrdersTopic:       "pharmacy.orders",
			DeadLetterTopic:   "pharmacy.orders.dlq",
			Partitions:        12,
			ReplicationFactor: 1,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "rxhl7",
		},
		HL7: HL7Config{
			TimeZone:        "America/Toronto",
			LineBreakToken:  `\E\.br\E\`,
			SiteRefresh:     time.Minute,
			SiteCacheTTL:    5 * time.Minute,
			MaxMessageBytes: 1 << 20,
		},
		Outbox: OutboxConfig{
			BatchSize:    100,
			PollInterval: 250 * time.Millisecond,
			MaxRetries:   5,
			Retention:    72 * time.Hour,
		},
		Workers: WorkersConfig{
			Count:      16,
			QueueSize:  1024,
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			Environment: "development",
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults, then applies environment overrides.
// ${VAR} references in the file are expanded first. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the settings deployments usually inject
func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Migrate = getEnvBool("DATABASE_MIGRATE", c.Database.Migrate)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", c.Kafka.ConsumerGroup)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.HL7.TimeZone = getEnv("HL7_TIME_ZONE", c.HL7.TimeZone)
	c.HL7.Sites = getEnvList("HL7_SITES", c.HL7.Sites)
	c.Workers.Count = getEnvInt("WORKERS", c.Workers.Count)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if keys := os.Getenv("API_KEYS"); keys != "" {
		c.Server.APIKeys = parseAPIKeys(keys)
	}
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Kafka.InboundTopic == "" || c.Kafka.OrdersTopic == "" {
		return fmt.Errorf("kafka topics must be set")
	}
	return nil
}

// Location resolves the HL7 time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.HL7.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("hl7.time_zone %q: %w", c.HL7.TimeZone, err)
	}
	return loc, nil
}

// parseAPIKeys reads "key1:client1,key2:client2"
func parseAPIKeys(s string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, client, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && key != "" {
			keys[key] = client
		}
	}
	return keys
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

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
