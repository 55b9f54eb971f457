// Package redis owns the go-redis dependency. Callers accept Cmdable so
// tests can point them at miniredis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable. The token store accepts this
// interface instead of importing go-redis directly.
type Cmdable = redis.Cmdable

// Pipeliner is the transaction handle passed to TxPipelined callbacks.
type Pipeliner = redis.Pipeliner

// Nil is returned by reads of a missing key.
var Nil = redis.Nil

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration // Applied to dial, read, and write
}

// Client wraps a go-redis client. RDB is the handle the token store uses.
type Client struct {
	RDB     *redis.Client
	timeout time.Duration
}

// NewClient creates a new Redis client configured from cfg.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &Client{RDB: rdb, timeout: cfg.Timeout}
}

// Ping checks connectivity, bounded by the configured timeout.
func (c *Client) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}
