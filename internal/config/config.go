package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override, e.g. DVT_DATABASE_PASSWORD
	EnvPrefix = "DVT_"
)

// Backend drivers
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverMemory   = "memory"
)

// Worker kinds
const (
	WorkerKindValidation = "validation"
	WorkerKindProfiling  = "profiling"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app" envPrefix:"APP_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Queue     QueueConfig     `yaml:"queue" envPrefix:"QUEUE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Trigger   TriggerConfig   `yaml:"trigger" envPrefix:"TRIGGER_"`
	Worker    WorkerConfig    `yaml:"worker" envPrefix:"WORKER_"`
	Profiling ProfilingConfig `yaml:"profiling" envPrefix:"PROFILING_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" env:"NAME"`
	Version     string `yaml:"version" env:"VERSION"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds job store configuration
type DatabaseConfig struct {
	// Driver is postgres or memory.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"NAME"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host             string           `yaml:"host" env:"HOST"`
	Port             int              `yaml:"port" env:"PORT"`
	User             string           `yaml:"user" env:"USER"`
	Password         string           `yaml:"password" env:"PASSWORD"`
	VHost            string           `yaml:"vhost" env:"VHOST"`
	Durable          bool             `yaml:"durable" env:"DURABLE"`
	DelayQueueSuffix string           `yaml:"delay_queue_suffix" env:"DELAY_QUEUE_SUFFIX"`
	Connection       ConnectionConfig `yaml:"connection" envPrefix:"CONNECTION_"`
	Publish          PublishConfig    `yaml:"publish" envPrefix:"PUBLISH_"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	Heartbeat     time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval     time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// QueueConfig selects the work queue backend and names
type QueueConfig struct {
	// Driver is redis, rabbitmq or memory.
	Driver          string `yaml:"driver" env:"DRIVER"`
	ValidationQueue string `yaml:"validation_queue" env:"VALIDATION"`
	ProfilingQueue  string `yaml:"profiling_queue" env:"PROFILING"`
}

// StorageConfig holds blob store locations
type StorageConfig struct {
	// Root is the directory backing every bucket.
	Root          string `yaml:"root" env:"ROOT"`
	SourceBucket  string `yaml:"source_bucket" env:"SOURCE_BUCKET"`
	TargetBucket  string `yaml:"target_bucket" env:"TARGET_BUCKET"`
	StageBucket   string `yaml:"stage_bucket" env:"STAGE_BUCKET"`
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

// TriggerConfig holds ingestion settings
type TriggerConfig struct {
	EnqueueDelay    time.Duration `yaml:"enqueue_delay" env:"ENQUEUE_DELAY"`
	EnableProfiling bool          `yaml:"enable_profiling" env:"ENABLE_PROFILING"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Kind            string        `yaml:"kind" env:"KIND"`
	Concurrency     int           `yaml:"concurrency" env:"CONCURRENCY"`
	// Lease is the visibility timeout on redis and memory queues. RabbitMQ
	// bounds it by the broker's consumer_timeout instead.
	Lease           time.Duration `yaml:"lease" env:"LEASE"`
	PollWait        time.Duration `yaml:"poll_wait" env:"POLL_WAIT"`
	IdleSleep       time.Duration `yaml:"idle_sleep" env:"IDLE_SLEEP"`
	MaxReceiveCount int           `yaml:"max_receive_count" env:"MAX_RECEIVE_COUNT"`
	StagingDir      string        `yaml:"staging_dir" env:"STAGING_DIR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ProfilingConfig holds profiler settings
type ProfilingConfig struct {
	SampleSize int `yaml:"sample_size" env:"SAMPLE_SIZE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableSource bool   `yaml:"enable_source" env:"ENABLE_SOURCE"`
	TimeFormat   string `yaml:"time_format" env:"TIME_FORMAT"`
}

// Default returns a configuration usable for a single-host run
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "dvt-pipeline",
			Version:     "0.1.0",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "dvt",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			KeyPrefix:    "dvt",
		},
		RabbitMQ: RabbitMQConfig{
			Host:             "localhost",
			Port:             5672,
			User:             "guest",
			Password:         "guest",
			VHost:            "/",
			Durable:          true,
			DelayQueueSuffix: ".delay",
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     500 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Queue: QueueConfig{
			Driver:          DriverRedis,
			ValidationQueue: "dvt-validation",
			ProfilingQueue:  "dvt-profiling",
		},
		Storage: StorageConfig{
			Root:         "./data/blobs",
			SourceBucket: "uploads",
			TargetBucket: "results",
			StageBucket:  "staged",
		},
		Trigger: TriggerConfig{
			EnqueueDelay: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Kind:            WorkerKindValidation,
			Concurrency:     1,
			Lease:           12 * time.Hour,
			PollWait:        1 * time.Second,
			IdleSleep:       2 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Profiling: ProfilingConfig{
			SampleSize: 20480,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over Default and then applies
// DVT_-prefixed environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// ValidateTriggerConfig checks the settings the trigger service depends on
func (c *Config) ValidateTriggerConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Trigger.EnqueueDelay < 0 {
		return fmt.Errorf("trigger enqueue_delay must not be negative")
	}

	if c.Trigger.EnableProfiling && c.Queue.ProfilingQueue == "" {
		return fmt.Errorf("queue profiling_queue is required when profiling is enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	switch c.Worker.Kind {
	case WorkerKindValidation:
	case WorkerKindProfiling:
		if c.Queue.ProfilingQueue == "" {
			return fmt.Errorf("queue profiling_queue is required for the profiling worker")
		}
	default:
		return fmt.Errorf("invalid worker kind: %q (must be %s or %s)", c.Worker.Kind, WorkerKindValidation, WorkerKindProfiling)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.Lease <= 0 {
		return fmt.Errorf("worker lease must be greater than 0")
	}

	if c.Worker.PollWait < 0 {
		return fmt.Errorf("worker poll_wait must not be negative")
	}

	if c.Worker.IdleSleep <= 0 {
		return fmt.Errorf("worker idle_sleep must be greater than 0")
	}

	if c.Worker.MaxReceiveCount < 0 {
		return fmt.Errorf("worker max_receive_count must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateBackends()
}

func (c *Config) validateBackends() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database driver: %q", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
	case DriverRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid queue driver: %q", c.Queue.Driver)
	}

	if c.Queue.ValidationQueue == "" {
		return fmt.Errorf("queue validation_queue is required")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Storage.SourceBucket == "" || c.Storage.TargetBucket == "" {
		return fmt.Errorf("storage source_bucket and target_bucket are required")
	}

	return nil
}
