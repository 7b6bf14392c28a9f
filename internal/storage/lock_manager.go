package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "synclock:"

// LockManager provides entity-scoped mutual exclusion for sync runs, backed
// by Redis key expiry. Expiry is the liveness mechanism: a run that dies
// without releasing its lock loses it when the TTL lapses, and a healthy run
// keeps it alive through heartbeat extension.
type LockManager struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewLockManager creates a lock manager with the given initial lock lifetime
func NewLockManager(cache *RedisCache, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LockManager{cache: cache, ttl: ttl}
}

func lockKey(entity types.EntityType) string {
	return lockKeyPrefix + string(entity)
}

// Acquire attempts to take the lock for an entity. Returns false when another
// owner already holds it.
func (m *LockManager) Acquire(ctx context.Context, entity types.EntityType, owner string) (bool, error) {
	now := time.Now()
	info := models.LockInfo{
		Entity:        entity,
		Owner:         owner,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(m.ttl),
		LastHeartbeat: now,
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	acquired, err := m.cache.SetNX(ctx, lockKey(entity), payload, m.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for %s: %w", entity, err)
	}

	return acquired, nil
}

// Release frees the lock if the given owner holds it
func (m *LockManager) Release(ctx context.Context, entity types.EntityType, owner string) error {
	info, err := m.GetLockInfo(ctx, entity)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.Owner != owner {
		return fmt.Errorf("lock for %s is held by %q, not %q", entity, info.Owner, owner)
	}

	if err := m.cache.Del(ctx, lockKey(entity)); err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", entity, err)
	}

	return nil
}

// GetLockInfo returns the current lock state for an entity, or nil when no
// lock exists.
func (m *LockManager) GetLockInfo(ctx context.Context, entity types.EntityType) (*models.LockInfo, error) {
	raw, found, err := m.cache.Get(ctx, lockKey(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to read lock for %s: %w", entity, err)
	}
	if !found {
		return nil, nil
	}

	var info models.LockInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to decode lock for %s: %w", entity, err)
	}

	info.Active = info.ExpiresAt.After(time.Now())
	return &info, nil
}

// UpdateHeartbeat refreshes the lock's liveness timestamp without changing
// its expiry. Returns false when no active lock exists.
func (m *LockManager) UpdateHeartbeat(ctx context.Context, entity types.EntityType) (bool, error) {
	info, err := m.GetLockInfo(ctx, entity)
	if err != nil {
		return false, err
	}
	if info == nil || !info.Active {
		return false, nil
	}

	info.LastHeartbeat = time.Now()
	payload, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	// KeepTTL preserves the remaining expiry set at acquisition or extension
	if err := m.cache.Client().Set(ctx, lockKey(entity), payload, redis.KeepTTL).Err(); err != nil {
		return false, fmt.Errorf("failed to update heartbeat for %s: %w", entity, err)
	}

	return true, nil
}

// ExtendLock adds the given duration to the lock's expiry. Returns false when
// no active lock exists.
func (m *LockManager) ExtendLock(ctx context.Context, entity types.EntityType, extension time.Duration) (bool, error) {
	info, err := m.GetLockInfo(ctx, entity)
	if err != nil {
		return false, err
	}
	if info == nil || !info.Active {
		return false, nil
	}

	info.ExpiresAt = info.ExpiresAt.Add(extension)
	payload, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	newTTL := time.Until(info.ExpiresAt)
	if newTTL <= 0 {
		return false, nil
	}

	if err := m.cache.Set(ctx, lockKey(entity), payload, newTTL); err != nil {
		return false, fmt.Errorf("failed to extend lock for %s: %w", entity, err)
	}

	return true, nil
}

// GetActiveLocks lists all currently held locks
func (m *LockManager) GetActiveLocks(ctx context.Context) ([]*models.LockInfo, error) {
	keys, err := m.cache.Keys(ctx, lockKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan locks: %w", err)
	}

	locks := make([]*models.LockInfo, 0, len(keys))
	for _, key := range keys {
		entity := types.EntityType(strings.TrimPrefix(key, lockKeyPrefix))
		info, err := m.GetLockInfo(ctx, entity)
		if err != nil {
			return nil, err
		}
		if info != nil && info.Active {
			locks = append(locks, info)
		}
	}

	return locks, nil
}
