package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedisStore struct {
	data        map[string]string
	ttls        map[string]time.Duration
	pexpired    map[string]time.Duration
	deletedKeys []string
}

func newFakeRedisStore() *fakeRedisStore {
	return &fakeRedisStore{
		data:     map[string]string{},
		ttls:     map[string]time.Duration{},
		pexpired: map[string]time.Duration{},
	}
}

func (f *fakeRedisStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := f.data[key]; exists {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeRedisStore) Get(_ context.Context, key string) (string, error) {
	value, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeRedisStore) PExpire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; !ok {
		return false, nil
	}
	f.pexpired[key] = ttl
	return true, nil
}

func (f *fakeRedisStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
		f.deletedKeys = append(f.deletedKeys, key)
	}
	return nil
}

func newTestLock(t *testing.T, store *fakeRedisStore, minHold, maxHold time.Duration) *RedisLock {
	t.Helper()
	lock, err := NewRedisLock(store, "regrelay:lock:test", minHold, maxHold)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	return lock
}

func TestRedisLockAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	ctx := context.Background()

	first := newTestLock(t, store, 0, time.Hour)
	second := newTestLock(t, store, 0, time.Hour)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if store.ttls["regrelay:lock:test"] != time.Hour {
		t.Fatalf("key TTL should be the max hold, got %s", store.ttls["regrelay:lock:test"])
	}

	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("second acquire must fail while the lease is held")
	}
}

func TestRedisLockReleaseAfterMinHoldDeletes(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	ctx := context.Background()
	lock := newTestLock(t, store, time.Minute, time.Hour)

	base := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	current := base
	lock.now = func() time.Time { return current }

	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	current = base.Add(2 * time.Minute)
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(store.deletedKeys) != 1 {
		t.Fatalf("expected key deletion after min hold elapsed")
	}
}

func TestRedisLockEarlyReleaseKeepsMinHold(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	ctx := context.Background()
	lock := newTestLock(t, store, 10*time.Minute, time.Hour)

	base := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	current := base
	lock.now = func() time.Time { return current }

	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	current = base.Add(time.Minute)
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(store.deletedKeys) != 0 {
		t.Fatalf("early release must not delete the key")
	}
	if got := store.pexpired["regrelay:lock:test"]; got != 9*time.Minute {
		t.Fatalf("expected TTL shortened to remaining min hold, got %s", got)
	}

	// The lease still blocks other holders until it expires.
	other := newTestLock(t, store, 10*time.Minute, time.Hour)
	if ok, _ := other.Acquire(ctx); ok {
		t.Fatalf("lease must still be held during the min hold window")
	}
}

func TestRedisLockReleaseRespectsForeignOwner(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	ctx := context.Background()
	lock := newTestLock(t, store, 0, time.Hour)

	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	// Simulate the key expiring and another instance taking over.
	store.data["regrelay:lock:test"] = "someone-else"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(store.deletedKeys) != 0 {
		t.Fatalf("release must not delete a foreign owner's lease")
	}
}

func TestNewRedisLockRejectsInvertedHolds(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisLock(newFakeRedisStore(), "k", 2*time.Hour, time.Hour); err == nil {
		t.Fatalf("expected min hold > max hold to be rejected")
	}
}
