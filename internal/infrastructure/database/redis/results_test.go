package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

type storedResult struct {
	TaskID     string  `json:"task_id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

func TestResultStore_PutGet(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewResultStore(client, time.Hour)
	ctx := context.Background()

	in := storedResult{TaskID: "task-1", Prediction: "Normal", Confidence: 0.9}
	require.NoError(t, store.Put(ctx, "task-1", in))
	assert.Equal(t, time.Hour, mr.TTL("micronet:result:task-1"))

	var out storedResult
	require.NoError(t, store.Get(ctx, "task-1", &out))
	assert.Equal(t, in, out)
}

func TestResultStore_Missing(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewResultStore(client, time.Hour)

	var out storedResult
	err := store.Get(context.Background(), "nope", &out)
	assert.ErrorIs(t, err, ErrResultMissing)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestResultStore_CorruptEntry(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewResultStore(client, time.Hour)
	require.NoError(t, mr.Set("micronet:result:task-1", "{not json"))

	var out storedResult
	err := store.Get(context.Background(), "task-1", &out)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}
