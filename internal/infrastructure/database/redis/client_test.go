package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "micronet:"}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient_Success(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewClient_ConnectionFailed(t *testing.T) {
	client, err := NewClient(context.Background(), config.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}, nil)
	assert.Nil(t, client)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestClient_Key(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"micronet:", "micronet:claim:t1"},
		{"micronet", "micronet:claim:t1"},
		{"", "claim:t1"},
	}
	for _, tc := range cases {
		c := NewClientFromUniversal(nil, tc.prefix, nil)
		assert.Equal(t, tc.want, c.Key("claim", "t1"), "prefix %q", tc.prefix)
	}
}

func TestClient_Close(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Equal(t, ErrClientClosed, client.Ping(context.Background()))
}
