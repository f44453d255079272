// Package redis confines go-redis to one place. Adapters use the aliases
// declared here instead of importing the library directly.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is the command surface credential stores use.
type Cmdable = redis.Cmdable

// UniversalClient is what the Redis Streams event publisher takes.
type UniversalClient = redis.UniversalClient

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read and write of every command.
	Timeout time.Duration
}

// Client wraps a go-redis client. RDB satisfies both Cmdable and
// UniversalClient.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg. No connection is
// made until the first command.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &Client{RDB: rdb}
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.RDB.Options().Addr, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}

// IsNil reports whether err is the reply go-redis returns for a missing key.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
