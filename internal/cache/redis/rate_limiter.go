package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a fixed-window counter per
// key. The window starts at the first request and the counter expires with it.
type RateLimiter struct {
	rdb redis.Cmdable
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return newRateLimiter(c.rdb)
}

func newRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow counts one request for key and reports whether it is within limit
// for the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rk := rateLimitKey(key)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, rk)
		p.ExpireNX(ctx, rk, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
