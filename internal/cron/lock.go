package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultMaxHold = time.Hour

// Lock coordinates exclusive job runs across instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock implements Lock as a Redis SETNX lease with a minimum and maximum
// hold. The key TTL is the maximum hold, so a crashed holder self-expires.
// Releasing before the minimum hold has elapsed keeps the key alive for the
// remainder, so a job that finishes instantly still blocks other instances
// from rerunning it right away.
type RedisLock struct {
	client     redisStore
	key        string
	minHold    time.Duration
	maxHold    time.Duration
	owner      string
	acquiredAt time.Time
	now        func() time.Time
}

// NewRedisLock constructs a Redis-backed lease for one job.
func NewRedisLock(client redisStore, key string, minHold, maxHold time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if maxHold <= 0 {
		maxHold = defaultMaxHold
	}
	if minHold < 0 {
		minHold = 0
	}
	if minHold > maxHold {
		return nil, fmt.Errorf("lock min hold %s exceeds max hold %s", minHold, maxHold)
	}
	return &RedisLock{
		client:  client,
		key:     key,
		minHold: minHold,
		maxHold: maxHold,
		now:     time.Now,
	}, nil
}

// Acquire tries to own the lease for the maximum hold.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.maxHold)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
		l.acquiredAt = l.now()
	}
	return ok, nil
}

// Release frees the lease only if the owner value still matches. When the
// minimum hold has not elapsed yet, the key is kept with its TTL shortened
// to the remainder instead of being deleted.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}

	remaining := l.minHold - l.now().Sub(l.acquiredAt)
	if remaining > 0 {
		if _, err := l.client.PExpire(ctx, l.key, remaining); err != nil {
			return fmt.Errorf("shorten lock ttl: %w", err)
		}
		l.owner = ""
		return nil
	}

	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}
