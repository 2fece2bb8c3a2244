package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"suiverify/internal/platform/config"
	"suiverify/internal/platform/metrics"
)

// Client is the process-wide Redis connection backing the OTP store and the
// stream transport.
type Client struct {
	*redis.Client
	metrics *metrics.Metrics
	last    *metrics.PoolSnapshot
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics enables pool statistics export.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New dials the server named by cfg.URL and pings it. An empty URL means
// Redis is not configured and yields a nil client.
func New(ctx context.Context, cfg config.Redis, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	ro, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		ro.PoolSize = cfg.PoolSize
	}
	ro.MinIdleConns = cfg.MinIdleConns
	ro.DialTimeout = cfg.DialTimeout
	ro.ReadTimeout = cfg.ReadTimeout
	ro.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", ro.Addr, err)
	}

	c := &Client{Client: rdb}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health is the readiness check registered under "redis".
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats exports the current pool counters. Not safe for concurrent
// use; Run is its only caller in production.
func (c *Client) RecordPoolStats() {
	if c.metrics == nil {
		return
	}
	stats := c.PoolStats()
	cur := metrics.PoolSnapshot{
		Hits:     stats.Hits,
		Misses:   stats.Misses,
		Timeouts: stats.Timeouts,
		Stale:    stats.StaleConns,
		Total:    stats.TotalConns,
		Idle:     stats.IdleConns,
	}
	c.metrics.ObserveRedisPool(c.last, cur)
	c.last = &cur
}

// Run records pool statistics every interval until ctx is done.
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RecordPoolStats()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
