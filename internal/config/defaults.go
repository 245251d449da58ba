package config

import "time"

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultInputSize        = 224
	DefaultInferenceTimeout = 60 * time.Second

	DefaultWeightSource = WeightSourceLocal
	DefaultWeightsDir   = "./weights"
	DefaultWeightPrefix = "encoders/"

	DefaultServingTimeout = 30 * time.Second

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultClaimTTL       = 30 * time.Minute
	DefaultRedisKeyPrefix = "micronet:"

	DefaultMinIOEndpoint = "localhost:9000"

	DefaultKafkaBroker   = "localhost:9092"
	DefaultKafkaGroupID  = "micronet-worker"
	DefaultRequestTopic  = "micronet.prediction.requests"
	DefaultResultTopic   = "micronet.prediction.results"
	DefaultDLQTopic      = "micronet.prediction.dlq"
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = time.Second
	DefaultCommitTimeout = 5 * time.Second

	DefaultWorkerConcurrency = 2
	DefaultHealthAddr        = ":8081"
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultMetricsNamespace = "micronet"
)

// ApplyDefaults fills zero-value fields in cfg. Explicitly set values win.
// Booleans are left alone since false is indistinguishable from unset; the
// loader seeds viper defaults for those.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if cfg.Engine.InputSize == 0 {
		cfg.Engine.InputSize = DefaultInputSize
	}
	if cfg.Engine.InferenceTimeout == 0 {
		cfg.Engine.InferenceTimeout = DefaultInferenceTimeout
	}

	if cfg.Weights.Source == "" {
		cfg.Weights.Source = DefaultWeightSource
	}
	if cfg.Weights.LocalDir == "" {
		cfg.Weights.LocalDir = DefaultWeightsDir
	}
	if cfg.Weights.Prefix == "" {
		cfg.Weights.Prefix = DefaultWeightPrefix
	}

	if cfg.Serving.Timeout == 0 {
		cfg.Serving.Timeout = DefaultServingTimeout
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.ClaimTTL == 0 {
		cfg.Redis.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultRequestTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultResultTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultDLQTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultMaxRetries
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Kafka.StartOffset == "" {
		cfg.Kafka.StartOffset = "earliest"
	}
	if cfg.Kafka.CommitTimeout == 0 {
		cfg.Kafka.CommitTimeout = DefaultCommitTimeout
	}

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.HealthAddr == "" {
		cfg.Worker.HealthAddr = DefaultHealthAddr
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}
