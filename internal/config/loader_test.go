package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
log:
  level: debug
  format: console
engine:
  input_size: 224
  prefer_gpu: false
  inference_timeout: 45s
weights:
  source: minio
  bucket: micronet-weights
  prefix: encoders/
minio:
  endpoint: minio:9000
  access_key: key
  secret_key: secret
redis:
  addr: redis:6379
  claim_ttl: 10m
kafka:
  brokers: ["kafka-0:9092", "kafka-1:9092"]
  group_id: diag-workers
worker:
  concurrency: 4
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "micronet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Engine.PreferGPU)
	assert.Equal(t, 45*time.Second, cfg.Engine.InferenceTimeout)
	assert.Equal(t, WeightSourceMinIO, cfg.Weights.Source)
	assert.Equal(t, "micronet-weights", cfg.Weights.Bucket)
	assert.Equal(t, 10*time.Minute, cfg.Redis.ClaimTTL)
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "diag-workers", cfg.Kafka.GroupID)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultRequestTopic, cfg.Kafka.RequestTopic)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "log: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "worker:\n  concurrency: -2\n"))
	assert.ErrorContains(t, err, "worker.concurrency")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MICRONET_ENGINE_PREFER_GPU", "true")
	t.Setenv("MICRONET_REDIS_ADDR", "redis-env:6379")
	t.Setenv("MICRONET_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.True(t, cfg.Engine.PreferGPU)
	assert.Equal(t, "redis-env:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadFromEnv_NoFile(t *testing.T) {
	t.Setenv("MICRONET_WORKER_CONCURRENCY", "8")
	t.Setenv("MICRONET_METRICS_NAMESPACE", "diag")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "diag", cfg.Metrics.Namespace)
	assert.True(t, cfg.Engine.PreferGPU)
	assert.Equal(t, WeightSourceLocal, cfg.Weights.Source)
}

func TestMustLoad(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	assert.NotPanics(t, func() { MustLoad(path) })
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)

	var level atomic.Value
	require.NoError(t, Watch(path, func(c *Config) { level.Store(c.Log.Level) }, nil))

	updated := []byte("log:\n  level: warn\nweights:\n  source: local\n")
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	require.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "warn"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}
