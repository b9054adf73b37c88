// Package redisclient builds the shared Redis connection and key namespace
// used by the Redis-backed queue, store and in-flight registry.
package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the connection subset of the service config.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Client wraps a go-redis client with a key prefix.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New dials lazily; call Ping to verify connectivity.
func New(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	return Wrap(rdb, cfg.Prefix)
}

// Wrap adopts an existing client, e.g. one pointed at miniredis in tests.
func Wrap(rdb redis.UniversalClient, prefix string) *Client {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Redis returns the underlying client.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Key joins parts under the client prefix: Key("queue", "matchups") -> "<prefix>queue:matchups".
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// Ping tests the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
