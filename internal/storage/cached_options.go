package storage

import (
	"context"
	"time"

	"github.com/erp-sync/internal/logging"
)

// optionCachePrefix namespaces cached option keys in Redis
const optionCachePrefix = "optcache:"

// CachedOptions decorates a durable option store with a Redis read-through
// cache. Every successful write deletes the cached entry so subsequent reads
// hit the durable store and repopulate fresh data; serving a stale status
// record after a write is worse than one extra Postgres round trip.
type CachedOptions struct {
	store OptionStore
	cache *RedisCache
	ttl   time.Duration
}

// OptionStore is the durable key-value contract CachedOptions decorates.
// OptionsRepository and MemoryOptionStore both satisfy it.
type OptionStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, autoload bool) error
	Delete(ctx context.Context, key string) error
}

// NewCachedOptions creates a cache-decorated option store
func NewCachedOptions(store OptionStore, cache *RedisCache, ttl time.Duration) *CachedOptions {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &CachedOptions{store: store, cache: cache, ttl: ttl}
}

// Get reads through the cache. Cache errors degrade to a direct store read.
func (c *CachedOptions) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cached, found, err := c.cache.Get(ctx, optionCachePrefix+key)
	if err == nil && found {
		return []byte(cached), true, nil
	}
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).
			Warn("Option cache read failed, falling back to store")
	}

	value, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return value, found, err
	}

	if cacheErr := c.cache.Set(ctx, optionCachePrefix+key, value, c.ttl); cacheErr != nil {
		logging.FromContext(ctx).WithError(cacheErr).WithField("key", key).
			Warn("Failed to populate option cache")
	}

	return value, true, nil
}

// Set writes to the durable store and invalidates the cached entry
func (c *CachedOptions) Set(ctx context.Context, key string, value []byte, autoload bool) error {
	if err := c.store.Set(ctx, key, value, autoload); err != nil {
		return err
	}

	if err := c.cache.Del(ctx, optionCachePrefix+key); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).
			Warn("Failed to invalidate option cache after write")
	}

	return nil
}

// autoloadLister is the optional preload surface of the underlying store
type autoloadLister interface {
	GetAutoload(ctx context.Context) (map[string][]byte, error)
}

// Warm preloads all autoload-flagged options into the cache, so the first
// reads after a boot skip the durable store. Returns the number of options
// cached; a store without autoload support warms nothing.
func (c *CachedOptions) Warm(ctx context.Context) (int, error) {
	lister, ok := c.store.(autoloadLister)
	if !ok {
		return 0, nil
	}

	options, err := lister.GetAutoload(ctx)
	if err != nil {
		return 0, err
	}

	warmed := 0
	for key, value := range options {
		if err := c.cache.Set(ctx, optionCachePrefix+key, value, c.ttl); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("key", key).
				Warn("Failed to warm option cache entry")
			continue
		}
		warmed++
	}

	return warmed, nil
}

// Delete removes the option from both layers
func (c *CachedOptions) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}

	if err := c.cache.Del(ctx, optionCachePrefix+key); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).
			Warn("Failed to invalidate option cache after delete")
	}

	return nil
}
