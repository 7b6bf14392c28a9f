package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryOptionStore(t *testing.T) {
	store := NewMemoryOptionStore()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	if err != nil || found {
		t.Errorf("missing key: found=%v err=%v, want absent", found, err)
	}

	if err := store.Set(ctx, "key", []byte(`{"a":1}`), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := store.Get(ctx, "key")
	if err != nil || !found {
		t.Fatalf("Get after Set: found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte(`{"a":1}`)) {
		t.Errorf("value = %s, want {\"a\":1}", value)
	}

	// Mutating the returned slice must not affect the stored value
	value[0] = 'X'
	value2, _, _ := store.Get(ctx, "key")
	if !bytes.Equal(value2, []byte(`{"a":1}`)) {
		t.Error("stored value was mutated through a returned slice")
	}

	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "key"); found {
		t.Error("deleted key still present")
	}

	store.FailWrites = true
	if err := store.Set(ctx, "key", []byte("x"), false); err == nil {
		t.Error("FailWrites should make Set fail")
	}
}

func TestMemoryOptionStoreGetAutoload(t *testing.T) {
	store := NewMemoryOptionStore()
	ctx := context.Background()

	store.Set(ctx, "eager", []byte("a"), true)
	store.Set(ctx, "lazy", []byte("b"), false)

	options, err := store.GetAutoload(ctx)
	if err != nil {
		t.Fatalf("GetAutoload failed: %v", err)
	}
	if len(options) != 1 || !bytes.Equal(options["eager"], []byte("a")) {
		t.Errorf("autoload options = %v, want only eager", options)
	}
}

func newTestCachedOptions(t *testing.T) (*CachedOptions, *MemoryOptionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	store := NewMemoryOptionStore()
	return NewCachedOptions(store, cache, 30*time.Second), store, mr
}

func TestCachedOptionsReadThrough(t *testing.T) {
	cached, store, mr := newTestCachedOptions(t)
	ctx := context.Background()

	store.Set(ctx, "sync_status", []byte(`{"v":1}`), true)

	value, found, err := cached.Get(ctx, "sync_status")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte(`{"v":1}`)) {
		t.Errorf("value = %s, want {\"v\":1}", value)
	}

	if !mr.Exists(optionCachePrefix + "sync_status") {
		t.Error("read should populate the cache")
	}

	// Second read is served from the cache even if the store changes behind it
	store.Set(ctx, "sync_status", []byte(`{"v":2}`), true)
	value, _, _ = cached.Get(ctx, "sync_status")
	if !bytes.Equal(value, []byte(`{"v":1}`)) {
		t.Errorf("cached read = %s, want cached {\"v\":1}", value)
	}
}

func TestCachedOptionsInvalidateOnWrite(t *testing.T) {
	cached, _, mr := newTestCachedOptions(t)
	ctx := context.Background()

	cached.Set(ctx, "sync_status", []byte(`{"v":1}`), true)
	cached.Get(ctx, "sync_status") // populate cache

	if err := cached.Set(ctx, "sync_status", []byte(`{"v":2}`), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if mr.Exists(optionCachePrefix + "sync_status") {
		t.Error("write should invalidate the cached entry")
	}

	value, _, _ := cached.Get(ctx, "sync_status")
	if !bytes.Equal(value, []byte(`{"v":2}`)) {
		t.Errorf("read after write = %s, want fresh {\"v\":2}", value)
	}
}

func TestCachedOptionsDelete(t *testing.T) {
	cached, store, mr := newTestCachedOptions(t)
	ctx := context.Background()

	cached.Set(ctx, "sync_status", []byte(`{"v":1}`), true)
	cached.Get(ctx, "sync_status")

	if err := cached.Delete(ctx, "sync_status"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, found, _ := store.Get(ctx, "sync_status"); found {
		t.Error("delete should remove the durable entry")
	}
	if mr.Exists(optionCachePrefix + "sync_status") {
		t.Error("delete should remove the cached entry")
	}
	if _, found, _ := cached.Get(ctx, "sync_status"); found {
		t.Error("deleted key should read as absent")
	}
}

func TestCachedOptionsWarm(t *testing.T) {
	cached, store, mr := newTestCachedOptions(t)
	ctx := context.Background()

	store.Set(ctx, "sync_status", []byte(`{"v":1}`), true)
	store.Set(ctx, "sync_cancel_requested", []byte("1"), true)
	store.Set(ctx, "lazy", []byte("x"), false)

	warmed, err := cached.Warm(ctx)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if warmed != 2 {
		t.Errorf("warmed %d options, want 2", warmed)
	}

	if !mr.Exists(optionCachePrefix + "sync_status") {
		t.Error("autoload option should be cached after Warm")
	}
	if mr.Exists(optionCachePrefix + "lazy") {
		t.Error("non-autoload option should not be cached")
	}

	// A warmed read is served from the cache even after the store changes
	store.Set(ctx, "sync_status", []byte(`{"v":2}`), true)
	value, found, err := cached.Get(ctx, "sync_status")
	if err != nil || !found {
		t.Fatalf("Get after Warm: found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte(`{"v":1}`)) {
		t.Errorf("value = %s, want the warmed %q", value, `{"v":1}`)
	}
}

func TestCachedOptionsMissingKey(t *testing.T) {
	cached, _, _ := newTestCachedOptions(t)

	_, found, err := cached.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("missing key reported as found")
	}
}
