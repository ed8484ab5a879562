package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "config"

// envPrefix is prepended to the yaml tag path; the root tag already yields CHUNKFLOW_*.
const envPrefix = ""

var durationType = reflect.TypeOf(time.Duration(0))

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig layers configuration sources: defaults, then the embedded YAML (after ${VAR}
// expansion), then environment variables named after the yaml tag path.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()

	if len(embeddedConfig) > 0 {
		expanded, err := expander.Expand(embeddedConfig)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
		}
		// Unmarshalling onto the defaults keeps every key the YAML omits.
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), envPrefix); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from the .env file, embedded YAML and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// NewConfigProvider is an Fx provider that loads *Config and applies the configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *Config) error {
	c := cfg.Chunkflow
	var problems []string
	if c.Batch.ChunkSize < 1 {
		problems = append(problems, fmt.Sprintf("batch.chunk_size must be >= 1, got %d", c.Batch.ChunkSize))
	}
	if c.Batch.Partition.GridSize < 1 {
		problems = append(problems, fmt.Sprintf("batch.partition.grid_size must be >= 1, got %d", c.Batch.Partition.GridSize))
	}
	if c.Batch.Partition.ChunkSize < 1 {
		problems = append(problems, fmt.Sprintf("batch.partition.chunk_size must be >= 1, got %d", c.Batch.Partition.ChunkSize))
	}
	if c.Batch.Partition.PoolSize < 1 {
		problems = append(problems, fmt.Sprintf("batch.partition.pool_size must be >= 1, got %d", c.Batch.Partition.PoolSize))
	}
	if c.Batch.Partition.QueueCapacity < 0 {
		problems = append(problems, fmt.Sprintf("batch.partition.queue_capacity must be >= 0, got %d", c.Batch.Partition.QueueCapacity))
	}
	if c.Kafka.Retries < 0 {
		problems = append(problems, fmt.Sprintf("kafka.retries must be >= 0, got %d", c.Kafka.Retries))
	}
	if c.Consumer.MaxBatchSize < 1 {
		problems = append(problems, fmt.Sprintf("consumer.max_batch_size must be >= 1, got %d", c.Consumer.MaxBatchSize))
	}
	if c.Consumer.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("consumer.concurrency must be >= 1, got %d", c.Consumer.Concurrency))
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		problems = append(problems, fmt.Sprintf("database.type '%s' is not supported", c.Database.Type))
	}
	switch c.Batch.JobRepository {
	case "sql", "inmemory":
	default:
		problems = append(problems, fmt.Sprintf("batch.job_repository '%s' is not supported", c.Batch.JobRepository))
	}
	if len(problems) > 0 {
		return exception.NewBatchError(moduleName, "invalid configuration: "+strings.Join(problems, "; "), exception.ErrInvalidArgument, false, false)
	}
	return nil
}

// loadStructFromEnv recursively loads values into a struct from environment variables
// named after the upper-cased yaml tag path (e.g. CHUNKFLOW_KAFKA_BROKERS).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField converts value to the field's kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element kind %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	}
	return nil
}
