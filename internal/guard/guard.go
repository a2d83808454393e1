// Package guard implements the fixed-window rate limiter with an
// independent block marker. A caller who trips a policy is blocked for
// the policy's block duration, and the block outlives window rollover:
// it is a separate Redis key checked before the counter on every call.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable indicates the Redis backend is unreachable.
// Check never returns it; the guard fails open and reports the error
// through the warn hook instead. Reset does return it.
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")

// Policy is a named rate-limit configuration.
type Policy struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed      bool
	Remaining    int
	BlockedUntil time.Time
}

// Guard enforces fixed-window counting with block markers in Redis.
type Guard struct {
	redis redis.UniversalClient
	warn  func(format string, args ...any)
	now   func() time.Time
}

// New creates a Guard backed by the given Redis client. warn receives a
// line for every fail-open decision; pass nil to discard.
func New(redisClient redis.UniversalClient, warn func(string, ...any)) *Guard {
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return &Guard{redis: redisClient, warn: warn, now: time.Now}
}

// WithClock overrides the guard's clock. Test hook.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func windowKey(key string, windowIndex int64) string {
	return fmt.Sprintf("arl:%s:%d", key, windowIndex)
}

func blockKey(key string) string {
	return "arl:" + key + ":blocked"
}

// Check counts one request against the policy. The block marker is
// consulted first so a blocked caller is rejected in O(1) without
// touching the counter. On Redis failure the request is allowed and the
// error logged: enforcement is best-effort during an outage.
func (g *Guard) Check(ctx context.Context, key string, p Policy) Decision {
	blocked, until, err := g.blockedUntil(ctx, key)
	if err != nil {
		g.warn("guard: check %q failed open: %v", key, err)
		return Decision{Allowed: true, Remaining: 1}
	}
	if blocked {
		return Decision{BlockedUntil: until}
	}

	now := g.now()
	wk := windowKey(key, now.Unix()/int64(p.Window/time.Second))
	count, err := g.redis.Incr(ctx, wk).Result()
	if err != nil {
		g.warn("guard: check %q failed open: %v", key, err)
		return Decision{Allowed: true, Remaining: 1}
	}
	if count == 1 {
		if err := g.redis.Expire(ctx, wk, p.Window).Err(); err != nil {
			g.warn("guard: check %q failed open: %v", key, err)
			return Decision{Allowed: true, Remaining: 1}
		}
	}

	if count > int64(p.MaxAttempts) {
		until := now.Add(p.BlockDuration)
		if err := g.redis.Set(ctx, blockKey(key), 1, p.BlockDuration).Err(); err != nil {
			g.warn("guard: block %q failed open: %v", key, err)
			return Decision{Allowed: true, Remaining: 1}
		}
		return Decision{BlockedUntil: until}
	}

	return Decision{Allowed: true, Remaining: p.MaxAttempts - int(count)}
}

// Reset clears only the block marker, not the historical window counts.
// Administrative unblock.
func (g *Guard) Reset(ctx context.Context, key string) error {
	if err := g.redis.Del(ctx, blockKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (g *Guard) blockedUntil(ctx context.Context, key string) (bool, time.Time, error) {
	bk := blockKey(key)
	if err := g.redis.Get(ctx, bk).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ttl, err := g.redis.TTL(ctx, bk).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, g.now().Add(ttl), nil
}
