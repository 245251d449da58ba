package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
)

func TestProducer_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, 0, nil)

	err := p.Publish(context.Background(), &common.ProducerMessage{
		Topic:   "micronet.prediction.results",
		Key:     []byte("task-1"),
		Value:   []byte(`{"status":"success"}`),
		Headers: map[string]string{"task_id": "task-1"},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "micronet.prediction.results", m.Topic)
	assert.Equal(t, "task-1", string(m.Key))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "task_id", m.Headers[0].Key)
	assert.False(t, m.Time.IsZero())
	assert.Equal(t, ProducerStats{MessagesSent: 1, BytesSent: int64(len(m.Value))}, p.Stats())
}

func TestProducer_PublishValidation(t *testing.T) {
	p := NewProducerWithWriter(&recordingWriter{}, 8, nil)
	ctx := context.Background()

	cases := map[string]*common.ProducerMessage{
		"no topic":  {Value: []byte("x")},
		"no value":  {Topic: "t"},
		"too large": {Topic: "t", Value: []byte(strings.Repeat("x", 9))},
	}
	for name, msg := range cases {
		err := p.Publish(ctx, msg)
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidation), name)
	}
}

func TestProducer_WriteFailure(t *testing.T) {
	p := NewProducerWithWriter(&recordingWriter{err: stderrors.New("broker down")}, 0, nil)

	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("x")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageQueueError))
	assert.True(t, errors.IsRetryable(errors.GetCode(err)))
	assert.Equal(t, int64(1), p.Stats().MessagesFailed)
}

func TestProducer_PublishJSON(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, 0, nil)

	require.NoError(t, p.PublishJSON(context.Background(), "t", "k", map[string]int{"a": 1}, nil))
	var got map[string]int
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 1, got["a"])

	err := p.PublishJSON(context.Background(), "t", "k", make(chan int), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestProducer_Close(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, 0, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("x")})
	assert.Equal(t, ErrProducerClosed, err)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}))
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))

	_, err := NewProducer(ProducerConfig{}, nil)
	assert.Error(t, err)
}
