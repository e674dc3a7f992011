package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a sliding-window limiter shared by every process using
// the same Redis, so several bots behind one IP stay within the venue's
// public rate limit together.
type RateLimiter struct {
	c      *Client
	script *redis.Script
	key    string
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per window under key.
func NewRateLimiter(c *Client, key string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		c:      c,
		script: redis.NewScript(slidingWindowLua),
		key:    c.Key("ratelimit", key),
		limit:  limit,
		window: window,
	}
}

// Allow counts one request and reports whether it fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context) (bool, error) {
	return rl.allow(ctx, rl.key)
}

// AllowKey is Allow with a separate window per sub, e.g. one per client IP.
func (rl *RateLimiter) AllowKey(ctx context.Context, sub string) (bool, error) {
	return rl.allow(ctx, rl.key+":"+sub)
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	res, err := rl.script.Run(ctx, rl.c.rdb, []string{key},
		time.Now().UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until a request is allowed or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.key, ctx.Err())
		case <-time.After(waitPollInterval):
		}
	}
}
