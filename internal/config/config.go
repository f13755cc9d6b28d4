// Package config provides configuration loading and management for queueworker.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvBrokerAddress = "QUEUEWORKER_BROKER_ADDRESS"
	EnvQueue         = "QUEUEWORKER_QUEUE"
)

// ErrNoQueue is returned by Validate when no source queue is configured.
var ErrNoQueue = errors.New("consumer.queue is required")

// Config represents the complete application configuration.
type Config struct {
	Consumer ConsumerConfig `yaml:"consumer"`
	Broker   BrokerConfig   `yaml:"broker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Pause    PauseConfig    `yaml:"pause"`
	Admin    AdminConfig    `yaml:"admin"`
	Routes   []RouteConfig  `yaml:"routes"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// ConsumerConfig holds the settings of the consume loop.
type ConsumerConfig struct {
	Queue       string        `yaml:"queue"`
	Serializer  string        `yaml:"serializer"`
	Compression string        `yaml:"compression"`
	PauseDelay  time.Duration `yaml:"pause_delay"`
	WorkerID    string        `yaml:"worker_id"`
	// Handler names the built-in processing callback ("forward" or "log").
	Handler string `yaml:"handler"`
	// Pointers so an explicit false can be told apart from unset.
	RequeueOnFailure *bool       `yaml:"requeue_on_failure"`
	RejectOnFailure  *bool       `yaml:"reject_on_failure"`
	Batch            BatchConfig `yaml:"batch"`
}

// BatchConfig holds the batched mode settings.
type BatchConfig struct {
	Size        int           `yaml:"size"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// BrokerConfig holds the broker address and backend specific options.
// The address scheme selects the backend.
type BrokerConfig struct {
	Address      string         `yaml:"address"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Memory       MemoryConfig   `yaml:"memory"`
	Kafka        KafkaConfig    `yaml:"kafka"`
	NATS         NATSConfig     `yaml:"nats"`
	AMQP         AMQPConfig     `yaml:"amqp"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Redis        RedisConfig    `yaml:"redis"`
}

// MemoryConfig holds in-memory broker settings.
type MemoryConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// KafkaConfig holds Kafka consumer group and topic settings.
type KafkaConfig struct {
	ConsumerGroup    string `yaml:"consumer_group"`
	DeadLetterSuffix string `yaml:"dead_letter_suffix"`
}

// NATSConfig holds JetStream settings.
type NATSConfig struct {
	Stream        string `yaml:"stream"`
	DurablePrefix string `yaml:"durable_prefix"`
}

// AMQPConfig holds RabbitMQ settings.
type AMQPConfig struct {
	Declare          bool   `yaml:"declare"`
	DeadLetterSuffix string `yaml:"dead_letter_suffix"`
}

// PostgresConfig holds table queue settings.
type PostgresConfig struct {
	Table             string        `yaml:"table"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxConns          int32         `yaml:"max_conns"`
}

// RedisConfig holds list queue settings.
type RedisConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// MetricsConfig holds metrics reporting settings.
// An empty SinkAddress disables metrics.
type MetricsConfig struct {
	SinkAddress  string        `yaml:"sink_address"`
	Prefix       string        `yaml:"prefix"`
	Job          string        `yaml:"job"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// PauseConfig holds backpressure gate settings.
type PauseConfig struct {
	RedisAddress string `yaml:"redis_address"`
	RedisKey     string `yaml:"redis_key"`
}

// AdminConfig holds the admin HTTP server settings.
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RouteConfig is a destination of the built-in forward handler.
type RouteConfig struct {
	Queue       string `yaml:"queue"`
	Serializer  string `yaml:"serializer"`
	Compression string `yaml:"compression"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBrokerAddress); v != "" {
		cfg.Broker.Address = v
	}
	if v := os.Getenv(EnvQueue); v != "" {
		cfg.Consumer.Queue = v
	}
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Consumer defaults
	if cfg.Consumer.Serializer == "" {
		cfg.Consumer.Serializer = "json"
	}
	if cfg.Consumer.Compression == "" {
		cfg.Consumer.Compression = "none"
	}
	if cfg.Consumer.PauseDelay == 0 {
		cfg.Consumer.PauseDelay = 5 * time.Second
	}
	if cfg.Consumer.RequeueOnFailure == nil {
		cfg.Consumer.RequeueOnFailure = boolPtr(true)
	}
	if cfg.Consumer.RejectOnFailure == nil {
		cfg.Consumer.RejectOnFailure = boolPtr(false)
	}
	if cfg.Consumer.Batch.Size == 0 {
		cfg.Consumer.Batch.Size = 100
	}
	if cfg.Consumer.Batch.WaitTimeout == 0 {
		cfg.Consumer.Batch.WaitTimeout = time.Second
	}

	// Broker defaults
	if cfg.Broker.Address == "" {
		cfg.Broker.Address = "memory://"
	}
	if cfg.Broker.PollInterval == 0 {
		cfg.Broker.PollInterval = time.Second
	}
	if cfg.Broker.Memory.BufferSize == 0 {
		cfg.Broker.Memory.BufferSize = 10000
	}
	if cfg.Broker.Kafka.ConsumerGroup == "" {
		cfg.Broker.Kafka.ConsumerGroup = "queueworker"
	}
	if cfg.Broker.Kafka.DeadLetterSuffix == "" {
		cfg.Broker.Kafka.DeadLetterSuffix = ".dlq"
	}
	if cfg.Broker.NATS.Stream == "" {
		cfg.Broker.NATS.Stream = "QUEUES"
	}
	if cfg.Broker.NATS.DurablePrefix == "" {
		cfg.Broker.NATS.DurablePrefix = "queueworker"
	}
	if cfg.Broker.AMQP.DeadLetterSuffix == "" {
		cfg.Broker.AMQP.DeadLetterSuffix = ".dlq"
	}
	if cfg.Broker.Postgres.Table == "" {
		cfg.Broker.Postgres.Table = "queue_messages"
	}
	if cfg.Broker.Postgres.VisibilityTimeout == 0 {
		cfg.Broker.Postgres.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.Broker.Postgres.MaxConns == 0 {
		cfg.Broker.Postgres.MaxConns = 4
	}
	if cfg.Broker.Redis.KeyPrefix == "" {
		cfg.Broker.Redis.KeyPrefix = "queue:"
	}

	// Metrics defaults
	if cfg.Metrics.Prefix == "" {
		cfg.Metrics.Prefix = "queue_util"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "queueworker"
	}
	if cfg.Metrics.PushInterval == 0 {
		cfg.Metrics.PushInterval = 15 * time.Second
	}

	// Pause defaults
	if cfg.Pause.RedisKey == "" {
		cfg.Pause.RedisKey = "queueworker:paused"
	}

	// Admin defaults
	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "0.0.0.0"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = 10 * time.Second
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = 10 * time.Second
	}
	if cfg.Admin.IdleTimeout == 0 {
		cfg.Admin.IdleTimeout = 120 * time.Second
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Validate reports configuration that cannot run a consumer.
func (c *Config) Validate() error {
	if c.Consumer.Queue == "" {
		return ErrNoQueue
	}
	for i, r := range c.Routes {
		if r.Queue == "" {
			return fmt.Errorf("routes[%d].queue is required", i)
		}
	}
	return nil
}

// Address returns the admin server address in host:port format.
func (c *AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func boolPtr(v bool) *bool {
	return &v
}
