package taskstore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// cachedStore wraps a Store with a bounded read-through cache over Get,
// invalidated on every Update. List always goes to the backend: history
// pages are read far less often than a single in-flight task's status,
// so caching them buys little and would need its own invalidation story.
type cachedStore struct {
	backend Store
	reads   *lru.Cache
	logger  *zap.Logger
}

func newCachedStore(backend Store, size int, logger *zap.Logger) (*cachedStore, error) {
	reads, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("taskstore: failed to create read cache: %w", err)
	}
	return &cachedStore{backend: backend, reads: reads, logger: logger}, nil
}

func cacheKey(userID, taskID string) string {
	return userID + "\x00" + taskID
}

func (c *cachedStore) Create(ctx context.Context, taskID, userID string, mode Mode, config, meta map[string]any) error {
	if err := c.backend.Create(ctx, taskID, userID, mode, config, meta); err != nil {
		return err
	}
	c.reads.Remove(cacheKey(userID, taskID))
	return nil
}

func (c *cachedStore) Update(ctx context.Context, taskID string, u Update) error {
	if err := c.backend.Update(ctx, taskID, u); err != nil {
		return err
	}
	// The cache is keyed by (userID, taskID) but Update only knows
	// taskID, so every cached key is scanned and each entry for this
	// task-id is purged, regardless of which user it was cached under.
	for _, key := range c.reads.Keys() {
		if k, ok := key.(string); ok && hasTaskID(k, taskID) {
			c.reads.Remove(k)
		}
	}
	return nil
}

func hasTaskID(cacheKey, taskID string) bool {
	sep := len(cacheKey) - len(taskID)
	return sep >= 1 && cacheKey[sep-1] == 0 && cacheKey[sep:] == taskID
}

func (c *cachedStore) Get(ctx context.Context, userID, taskID string) (*Record, error) {
	key := cacheKey(userID, taskID)
	if v, ok := c.reads.Get(key); ok {
		rec := v.(*Record)
		return rec, nil
	}
	rec, err := c.backend.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.reads.Add(key, rec)
	}
	return rec, nil
}

func (c *cachedStore) List(ctx context.Context, userID string, limit int) ([]*Record, error) {
	return c.backend.List(ctx, userID, limit)
}

func (c *cachedStore) Close() error {
	return c.backend.Close()
}
