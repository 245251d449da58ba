package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultInputSize, cfg.Engine.InputSize)
	assert.Equal(t, WeightSourceLocal, cfg.Weights.Source)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultRequestTopic, cfg.Kafka.RequestTopic)
	assert.Equal(t, DefaultResultTopic, cfg.Kafka.ResultTopic)
	assert.Equal(t, DefaultDLQTopic, cfg.Kafka.DLQTopic)
	assert.Equal(t, DefaultClaimTTL, cfg.Redis.ClaimTTL)
	assert.Equal(t, "micronet", cfg.Metrics.Namespace)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.InputSize = 256
	cfg.Redis.ClaimTTL = time.Minute
	cfg.Kafka.Brokers = []string{"kafka-0:9092", "kafka-1:9092"}
	ApplyDefaults(cfg)

	assert.Equal(t, 256, cfg.Engine.InputSize)
	assert.Equal(t, time.Minute, cfg.Redis.ClaimTTL)
	assert.Len(t, cfg.Kafka.Brokers, 2)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
