// Package redis provides the distributed submit lock, the verifier
// notification bus and the sync route rate limiter on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialPingTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Name is reported by CLIENT LIST so operators can tell which oraclebot
	// mode holds a submit lock.
	Name string
}

// Client owns the shared go-redis connection pool.
type Client struct {
	rdb *redis.Client
}

// New connects and pings within a bounded time. Every component built on the
// Client shares its pool.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: cfg.Name,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts)}
	pingCtx, cancel := context.WithTimeout(ctx, dialPingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// Ping checks the connection. The health endpoint calls it.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
