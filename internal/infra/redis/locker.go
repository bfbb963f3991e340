package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/autosend-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 5 * time.Minute

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker implements token-owned locks with SET NX PX. Only the holder's token can release.
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	token  func() string
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		token:  func() string { return uuid.NewString() },
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (lock.Lock, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lock name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token := l.token()
	ok, err := l.client.SetNX(ctx, "lock:"+name, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, lock.ErrNotAcquired
	}

	return &redisLock{client: l.client, key: "lock:" + name, token: token, ttl: l.ttl}, nil
}

type redisLock struct {
	client   *goredis.Client
	key      string
	token    string
	ttl      time.Duration
	released bool
}

func (l *redisLock) Refresh(ctx context.Context) error {
	if l.released {
		return lock.ErrNotAcquired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	extended, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if extended == 0 {
		return lock.ErrNotAcquired
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	l.released = true
	return nil
}
