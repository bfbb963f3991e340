package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const defaultEmailsPerSecond = 10

// reserveScript implements GCRA: the key holds the theoretical arrival time (ms) of the
// next request. It returns 0 and advances the TAT when the request fits, otherwise the
// number of milliseconds to wait. A burst of up to the per-second limit is allowed.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = tonumber(ARGV[3])
local tat = tonumber(redis.call("GET", KEYS[1]) or ARGV[1])
if tat < now then
  tat = now
end
local wait = tat - tolerance - now
if wait > 0 then
  return wait
end
tat = tat + interval
redis.call("SET", KEYS[1], tat, "PX", tat - now + 1000)
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter paces outgoing emails across every engine instance sharing the Redis.
type RedisRateLimiter struct {
	client    *goredis.Client
	interval  time.Duration
	tolerance time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int,
	now func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultEmailsPerSecond
	}

	interval := time.Second / time.Duration(limitPerSec)
	return &RedisRateLimiter{
		client:    client,
		interval:  interval,
		tolerance: interval * time.Duration(limitPerSec-1),
		now:       now,
		sleep:     sleep,
	}, nil
}

// Allow takes a slot for scope if one is free right now.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	wait, err := r.reserve(ctx, scope)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until scope has a free slot or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		wait, err := r.reserve(ctx, scope)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, scope string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return 0, fmt.Errorf("rate limit scope is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := "autosend:ratelimit:" + scope
	waitMs, err := reserveScript.Run(ctx, r.client, []string{key},
		r.now().UnixMilli(), r.interval.Milliseconds(), r.tolerance.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %q: %w", scope, err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
