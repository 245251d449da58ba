package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// ErrResultMissing is returned by ResultStore.Get for unknown tasks.
var ErrResultMissing = errors.New(errors.ErrCodeNotFound, "task result not stored")

// ResultStore keeps the JSON result of completed tasks so a redelivered
// request can be answered without running inference again.
type ResultStore struct {
	client *Client
	ttl    time.Duration
}

// NewResultStore creates a store whose entries expire after ttl.
func NewResultStore(client *Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) key(taskID string) string {
	return s.client.Key("result", taskID)
}

// Put stores v under taskID.
func (s *ResultStore) Put(ctx context.Context, taskID string, v interface{}) error {
	if s.client.isClosed() {
		return ErrClientClosed
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode task result")
	}
	if err := s.client.rdb.Set(ctx, s.key(taskID), raw, s.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to store task result").WithDetail(taskID)
	}
	return nil
}

// Get decodes the result stored for taskID into dest.
func (s *ResultStore) Get(ctx context.Context, taskID string, dest interface{}) error {
	if s.client.isClosed() {
		return ErrClientClosed
	}
	raw, err := s.client.rdb.Get(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return ErrResultMissing.WithDetail(taskID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to load task result").WithDetail(taskID)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode task result")
	}
	return nil
}
