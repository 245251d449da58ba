// Package config defines the configuration tree of the MicroNet diagnostics
// engine and its worker. Loading lives in loader.go, defaults in defaults.go.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
)

// Weight sources.
const (
	WeightSourceLocal  = "local"
	WeightSourceMinIO  = "minio"
	WeightSourceAzBlob = "azblob"
)

// EngineConfig tunes the inference engine.
type EngineConfig struct {
	// InputSize must match the exported models, 224.
	InputSize        int           `mapstructure:"input_size"`
	PreferGPU        bool          `mapstructure:"prefer_gpu"`
	ORTLibraryPath   string        `mapstructure:"ort_library_path"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	// RegistryFile optionally points at a YAML file that overrides or extends
	// the built-in configuration registry.
	RegistryFile string `mapstructure:"registry_file"`
}

// WeightsConfig selects where pretrained encoder weights are fetched from.
type WeightsConfig struct {
	Source   string `mapstructure:"source"` // local | minio | azblob
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// ServingConfig enables the remote KServe v2 segmentation factory.
type ServingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the task-claim store parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds S3-compatible object store parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// AzBlobConfig holds Azure Blob Storage parameters.
type AzBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

// KafkaConfig holds the worker's consumer and producer parameters.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	RequestTopic  string        `mapstructure:"request_topic"`
	ResultTopic   string        `mapstructure:"result_topic"`
	DLQTopic      string        `mapstructure:"dlq_topic"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	StartOffset   string        `mapstructure:"start_offset"` // earliest | latest
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// WorkerConfig tunes the background prediction worker.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	HealthAddr      string        `mapstructure:"health_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Enabled   bool   `mapstructure:"enabled"`
}

// Config is the root configuration.
type Config struct {
	Log     logging.LogConfig `mapstructure:"log"`
	Engine  EngineConfig      `mapstructure:"engine"`
	Weights WeightsConfig     `mapstructure:"weights"`
	Serving ServingConfig     `mapstructure:"serving"`
	Redis   RedisConfig       `mapstructure:"redis"`
	MinIO   MinIOConfig       `mapstructure:"minio"`
	AzBlob  AzBlobConfig      `mapstructure:"azblob"`
	Kafka   KafkaConfig       `mapstructure:"kafka"`
	Worker  WorkerConfig      `mapstructure:"worker"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
}

// Validate performs semantic validation of a defaulted Config and returns the
// first problem found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Engine.InputSize != DefaultInputSize {
		return fmt.Errorf("config: engine.input_size must be %d, got %d", DefaultInputSize, c.Engine.InputSize)
	}
	if c.Engine.InferenceTimeout < 0 {
		return fmt.Errorf("config: engine.inference_timeout must not be negative")
	}

	switch c.Weights.Source {
	case WeightSourceLocal:
		if c.Weights.LocalDir == "" {
			return fmt.Errorf("config: weights.local_dir is required for source %q", c.Weights.Source)
		}
	case WeightSourceMinIO:
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required for weights source minio")
		}
		if c.Weights.Bucket == "" && c.MinIO.Bucket == "" {
			return fmt.Errorf("config: weights.bucket or minio.bucket is required for weights source minio")
		}
	case WeightSourceAzBlob:
		if c.AzBlob.ConnectionString == "" {
			return fmt.Errorf("config: azblob.connection_string is required for weights source azblob")
		}
		if c.Weights.Bucket == "" && c.AzBlob.Container == "" {
			return fmt.Errorf("config: weights.bucket or azblob.container is required for weights source azblob")
		}
	default:
		return fmt.Errorf("config: weights.source %q is invalid; expected local|minio|azblob", c.Weights.Source)
	}

	if c.Serving.Enabled && c.Serving.BaseURL == "" {
		return fmt.Errorf("config: serving.base_url is required when serving is enabled")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}
	if c.Redis.ClaimTTL <= 0 {
		return fmt.Errorf("config: redis.claim_ttl must be positive")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}
	if c.Kafka.RequestTopic == "" || c.Kafka.ResultTopic == "" || c.Kafka.DLQTopic == "" {
		return fmt.Errorf("config: kafka request, result and dlq topics are required")
	}
	if c.Kafka.MaxRetries < 0 {
		return fmt.Errorf("config: kafka.max_retries must be >= 0, got %d", c.Kafka.MaxRetries)
	}
	switch c.Kafka.StartOffset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("config: kafka.start_offset %q is invalid; expected earliest|latest", c.Kafka.StartOffset)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}
	return nil
}
