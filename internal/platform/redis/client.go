// Package redis wraps the go-redis client for the dedupe window. Redis is
// optional: with no URL configured the reconciler falls back to its
// in-memory token store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fieldtrack/internal/platform/config"
)

type Client struct {
	*redis.Client
}

// New connects and pings. Returns nil, nil when no URL is configured so
// callers can treat redis as absent rather than failed.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether the connection still answers.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
