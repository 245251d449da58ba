package micronet

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// Loader is what the cache calls on a miss.
type Loader interface {
	Acquire(ctx context.Context, cacheKey string, cfg ModelConfig, kind TaskKind) (*ModelHandle, error)
}

// ModelCache owns every loaded handle, keyed by disease and task type. It
// loads lazily, never evicts and constructs each key at most once even under
// concurrent first access.
type ModelCache struct {
	loader  Loader
	metrics common.DiagnosticsMetrics
	logger  logging.Logger

	mu      sync.RWMutex
	handles map[string]*ModelHandle
	closed  bool
	group   singleflight.Group
}

// NewModelCache returns an empty cache.
func NewModelCache(loader Loader, metrics common.DiagnosticsMetrics, logger logging.Logger) *ModelCache {
	if metrics == nil {
		metrics = common.NewNoopDiagnosticsMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ModelCache{
		loader:  loader,
		metrics: metrics,
		logger:  logger,
		handles: make(map[string]*ModelHandle),
	}
}

// GetOrLoad returns the handle for key, loading it on first use. Loading
// runs detached from ctx so that a caller giving up does not poison the
// entry for others; the caller only stops waiting.
func (c *ModelCache) GetOrLoad(ctx context.Context, key string, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
	c.mu.RLock()
	h, ok := c.handles[key]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrCodeCacheClosed, "model cache is closed")
	}
	if ok {
		c.metrics.RecordCacheAccess(ctx, true, key)
		return h, nil
	}
	c.metrics.RecordCacheAccess(ctx, false, key)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.RLock()
		if h, ok := c.handles[key]; ok {
			c.mu.RUnlock()
			return h, nil
		}
		c.mu.RUnlock()

		h, err := c.loader.Acquire(detached, key, cfg, kind)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			_ = h.Close()
			return nil, errors.New(errors.ErrCodeCacheClosed, "model cache closed during load")
		}
		c.handles[key] = h
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ModelHandle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a loaded handle without loading.
func (c *ModelCache) Get(key string) (*ModelHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[key]
	return h, ok
}

// Keys lists the loaded keys in sorted order.
func (c *ModelCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.handles))
	for k := range c.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every handle. Later lookups fail with ErrCodeCacheClosed.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for key, h := range c.handles {
		if err := h.Close(); err != nil {
			c.logger.Warn("failed to release model", logging.String("cache_key", key), logging.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.handles = make(map[string]*ModelHandle)
	return firstErr
}
