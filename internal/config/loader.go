package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "MICRONET"

// newViper returns a viper instance reading YAML with MICRONET_ environment
// overrides, e.g. engine.prefer_gpu resolves to MICRONET_ENGINE_PREFER_GPU.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	seedDefaults(v)
	return v
}

// seedDefaults registers every key with viper. Unmarshal only consults the
// environment for keys viper already knows, and booleans need a real default.
func seedDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.error_output_paths", []string{"stderr"})
	v.SetDefault("log.sampling", false)

	v.SetDefault("engine.input_size", DefaultInputSize)
	v.SetDefault("engine.prefer_gpu", true)
	v.SetDefault("engine.ort_library_path", "")
	v.SetDefault("engine.inference_timeout", DefaultInferenceTimeout)
	v.SetDefault("engine.registry_file", "")

	v.SetDefault("weights.source", DefaultWeightSource)
	v.SetDefault("weights.local_dir", DefaultWeightsDir)
	v.SetDefault("weights.bucket", "")
	v.SetDefault("weights.prefix", DefaultWeightPrefix)

	v.SetDefault("serving.enabled", false)
	v.SetDefault("serving.base_url", "")
	v.SetDefault("serving.timeout", DefaultServingTimeout)

	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	v.SetDefault("redis.dial_timeout", 0)
	v.SetDefault("redis.read_timeout", 0)
	v.SetDefault("redis.write_timeout", 0)
	v.SetDefault("redis.claim_ttl", DefaultClaimTTL)
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)

	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("azblob.connection_string", "")
	v.SetDefault("azblob.container", "")

	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.request_topic", DefaultRequestTopic)
	v.SetDefault("kafka.result_topic", DefaultResultTopic)
	v.SetDefault("kafka.dlq_topic", DefaultDLQTopic)
	v.SetDefault("kafka.max_retries", DefaultMaxRetries)
	v.SetDefault("kafka.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("kafka.start_offset", "earliest")
	v.SetDefault("kafka.commit_timeout", DefaultCommitTimeout)

	v.SetDefault("worker.concurrency", DefaultWorkerConcurrency)
	v.SetDefault("worker.health_addr", DefaultHealthAddr)
	v.SetDefault("worker.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.enabled", true)
}

// Load reads the YAML file at configPath, merges MICRONET_* overrides,
// applies defaults and validates. An empty path loads from the environment
// alone.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from MICRONET_<SECTION>_<FIELD> variables and
// defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	// Comma-separated broker lists arrive from the environment as one string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers[0])
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Watch re-reads configPath whenever fsnotify reports a change and passes
// the validated result to onChange. Invalid revisions go to onError, when
// set, and onChange is skipped. Callers should only apply the hot-reloadable
// subset such as log level.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad panics if Load fails. Intended for main packages.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
