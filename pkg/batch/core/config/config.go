// Package config provides the configuration structures for chunkflow.
package config

import "time"

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// PartitionConfig holds settings for partitioned steps and their worker pool.
type PartitionConfig struct {
	// GridSize is the number of partitions a partitioned step splits its input into.
	GridSize int `yaml:"grid_size"`
	// ChunkSize is the commit interval inside each partition.
	ChunkSize int `yaml:"chunk_size"`
	// PoolSize is the fixed number of workers (core == max).
	PoolSize int `yaml:"pool_size"`
	// QueueCapacity bounds the backlog of submitted but not yet running partitions.
	QueueCapacity int `yaml:"queue_capacity"`
	// ThreadPrefix names workers, e.g. "batch-partition-1".
	ThreadPrefix string `yaml:"thread_prefix"`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// ChunkSize is the commit interval for single-threaded chunk steps.
	ChunkSize int `yaml:"chunk_size"`
	// InputFile is the default record source path.
	InputFile string `yaml:"input_file"`
	// OutputDir is where file sinks write, relative to the storage connection.
	OutputDir string `yaml:"output_dir"`
	// InputStorageRef names the storage connection the input file is read from. Empty reads the local filesystem.
	InputStorageRef string `yaml:"input_storage_ref"`
	// OutputStorageRef names the storage connection file sinks upload to.
	OutputStorageRef string `yaml:"output_storage_ref"`
	// Strict fails lines whose field count does not match the header.
	Strict bool `yaml:"strict"`
	// Partition configures partitioned steps.
	Partition PartitionConfig `yaml:"partition"`
	// JobRepository selects the execution store: "sql" or "inmemory".
	JobRepository string `yaml:"job_repository"`
}

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// Retries is the number of additional publish attempts after a transient failure.
	Retries int `yaml:"retries"`
	// Acks is "all", "one" or "none".
	Acks         string        `yaml:"acks"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	ClientID     string        `yaml:"client_id"`
}

// ConsumerConfig holds batch consumer settings.
type ConsumerConfig struct {
	Enabled bool   `yaml:"enabled"`
	GroupID string `yaml:"group_id"`
	// MaxBatchSize bounds the number of messages handed to the handler at once.
	MaxBatchSize int `yaml:"max_batch_size"`
	// Concurrency is the fixed number of listeners in the group.
	Concurrency int `yaml:"concurrency"`
	// PollInterval bounds how long a listener waits to fill a batch.
	PollInterval time.Duration `yaml:"poll_interval"`
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds connection settings for the relational store.
type DatabaseConfig struct {
	// Type is "sqlite", "postgres" or "mysql".
	Type     string     `yaml:"type"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Sslmode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
	// AutoMigrate runs the embedded schema migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	// Exporter is "none", "grpc" or "http".
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// APIConfig holds the HTTP command/query surface settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists job parameter keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// ChunkflowConfig holds all configuration under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	Batch    BatchConfig    `yaml:"batch"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	API      APIConfig      `yaml:"api"`
	System   SystemConfig   `yaml:"system"`
	Security SecurityConfig `yaml:"security"`
	// Storage holds named storage connection settings, decoded by the storage adapters.
	Storage map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkflow ChunkflowConfig `yaml:"chunkflow"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			Batch: BatchConfig{
				ChunkSize:        1000,
				InputFile:        "data/customers.csv",
				OutputDir:        "export",
				OutputStorageRef: "local",
				Partition: PartitionConfig{
					GridSize:      4,
					ChunkSize:     50,
					PoolSize:      4,
					QueueCapacity: 100,
					ThreadPrefix:  "batch-partition-",
				},
				JobRepository: "sql",
			},
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "customers",
				Retries:      3,
				Acks:         "all",
				WriteTimeout: 10 * time.Second,
				BatchTimeout: 10 * time.Millisecond,
				ClientID:     "chunkflow",
			},
			Consumer: ConsumerConfig{
				GroupID:      "batch-consumer-group",
				MaxBatchSize: 100,
				Concurrency:  3,
				PollInterval: time.Second,
				MinBytes:     1,
				MaxBytes:     10e6,
			},
			Database: DatabaseConfig{
				Type:        "sqlite",
				Database:    "chunkflow.db",
				Pool:        PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5},
				AutoMigrate: true,
			},
			Metrics: MetricsConfig{Enabled: true, Namespace: "chunkflow"},
			Tracing: TracingConfig{Exporter: "none", ServiceName: "chunkflow", SampleRatio: 1.0},
			API:     APIConfig{Addr: ":8080"},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Security: SecurityConfig{MaskedParameterKeys: []string{"password", "api_key", "secret"}},
			Storage: map[string]interface{}{
				"local": map[string]interface{}{"type": "local", "base_dir": "data"},
			},
		},
	}
}
