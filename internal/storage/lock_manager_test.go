package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/erp-sync/internal/types"
	"github.com/redis/go-redis/v9"
)

func newTestLockManager(t *testing.T, ttl time.Duration) (*LockManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewLockManager(cache, ttl), mr
}

func TestLockAcquireAndMutualExclusion(t *testing.T) {
	lm, _ := newTestLockManager(t, time.Hour)
	ctx := context.Background()

	acquired, err := lm.Acquire(ctx, types.EntityProducts, "worker-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !acquired {
		t.Fatal("first acquisition should succeed")
	}

	acquired, err = lm.Acquire(ctx, types.EntityProducts, "worker-2")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if acquired {
		t.Error("held lock should refuse a second owner")
	}

	// A different entity is an independent lock
	acquired, err = lm.Acquire(ctx, types.EntityOrders, "worker-2")
	if err != nil {
		t.Fatalf("orders Acquire failed: %v", err)
	}
	if !acquired {
		t.Error("locks must be entity-scoped")
	}
}

func TestLockReleaseOwnerCheck(t *testing.T) {
	lm, _ := newTestLockManager(t, time.Hour)
	ctx := context.Background()

	lm.Acquire(ctx, types.EntityProducts, "worker-1")

	if err := lm.Release(ctx, types.EntityProducts, "worker-2"); err == nil {
		t.Error("release by a non-owner should fail")
	}

	if err := lm.Release(ctx, types.EntityProducts, "worker-1"); err != nil {
		t.Fatalf("owner release failed: %v", err)
	}

	info, err := lm.GetLockInfo(ctx, types.EntityProducts)
	if err != nil {
		t.Fatalf("GetLockInfo failed: %v", err)
	}
	if info != nil {
		t.Error("released lock should be gone")
	}

	// Releasing an absent lock is a no-op
	if err := lm.Release(ctx, types.EntityProducts, "worker-1"); err != nil {
		t.Errorf("releasing absent lock failed: %v", err)
	}
}

func TestLockExpiryFreesTheLock(t *testing.T) {
	lm, mr := newTestLockManager(t, time.Minute)
	ctx := context.Background()

	lm.Acquire(ctx, types.EntityProducts, "worker-1")
	mr.FastForward(2 * time.Minute)

	info, err := lm.GetLockInfo(ctx, types.EntityProducts)
	if err != nil {
		t.Fatalf("GetLockInfo failed: %v", err)
	}
	if info != nil {
		t.Fatal("expired lock key should be gone")
	}

	acquired, err := lm.Acquire(ctx, types.EntityProducts, "worker-2")
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	if !acquired {
		t.Error("expired lock should be acquirable by a new owner")
	}
}

func TestLockHeartbeatPreservesTTL(t *testing.T) {
	lm, mr := newTestLockManager(t, time.Hour)
	ctx := context.Background()

	lm.Acquire(ctx, types.EntityProducts, "worker-1")
	before, _ := lm.GetLockInfo(ctx, types.EntityProducts)

	updated, err := lm.UpdateHeartbeat(ctx, types.EntityProducts)
	if err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	if !updated {
		t.Fatal("heartbeat of a held lock should succeed")
	}

	after, _ := lm.GetLockInfo(ctx, types.EntityProducts)
	if !after.LastHeartbeat.After(before.LastHeartbeat) && !after.LastHeartbeat.Equal(before.LastHeartbeat) {
		t.Error("heartbeat should refresh LastHeartbeat")
	}
	if !after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Error("heartbeat must not change the expiry")
	}
	if ttl := mr.TTL(lockKey(types.EntityProducts)); ttl <= 0 {
		t.Error("heartbeat must keep the key's TTL")
	}
}

func TestLockHeartbeatWithoutLock(t *testing.T) {
	lm, _ := newTestLockManager(t, time.Hour)

	updated, err := lm.UpdateHeartbeat(context.Background(), types.EntityProducts)
	if err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	if updated {
		t.Error("heartbeat without a lock should report false")
	}
}

func TestLockExtension(t *testing.T) {
	lm, mr := newTestLockManager(t, time.Minute)
	ctx := context.Background()

	lm.Acquire(ctx, types.EntityProducts, "worker-1")
	before, _ := lm.GetLockInfo(ctx, types.EntityProducts)

	extended, err := lm.ExtendLock(ctx, types.EntityProducts, time.Hour)
	if err != nil {
		t.Fatalf("ExtendLock failed: %v", err)
	}
	if !extended {
		t.Fatal("extension of a held lock should succeed")
	}

	after, _ := lm.GetLockInfo(ctx, types.EntityProducts)
	if got := after.ExpiresAt.Sub(before.ExpiresAt); got != time.Hour {
		t.Errorf("expiry moved by %v, want 1h", got)
	}
	if ttl := mr.TTL(lockKey(types.EntityProducts)); ttl <= time.Minute {
		t.Errorf("key TTL = %v, want extended past the original minute", ttl)
	}
}

func TestGetActiveLocks(t *testing.T) {
	lm, _ := newTestLockManager(t, time.Hour)
	ctx := context.Background()

	locks, err := lm.GetActiveLocks(ctx)
	if err != nil {
		t.Fatalf("GetActiveLocks failed: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("fresh manager has %d locks, want 0", len(locks))
	}

	lm.Acquire(ctx, types.EntityProducts, "worker-1")
	lm.Acquire(ctx, types.EntityOrders, "worker-2")

	locks, err = lm.GetActiveLocks(ctx)
	if err != nil {
		t.Fatalf("GetActiveLocks failed: %v", err)
	}
	if len(locks) != 2 {
		t.Fatalf("got %d active locks, want 2", len(locks))
	}
	for _, lock := range locks {
		if !lock.Active {
			t.Errorf("lock %s reported inactive", lock.Entity)
		}
	}
}
