// Package ratelimit bounds how often one buyer may request downloads.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Noop allows everything.
type Noop struct{}

// Allow implements Limiter.
func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redis is a fixed-window limiter: at most limit calls per window per key.
type Redis struct {
	client counter
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedis builds a limiter on client. A limit <= 0 disables limiting.
func NewRedis(client redis.Cmdable, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, limit: int64(limit), window: window, now: time.Now}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	slot := r.now().UnixNano() / int64(r.window)
	k := fmt.Sprintf("%s:%s:%d", r.prefix, key, slot)
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		// The key outlives its window slightly so a late Expire cannot leak it.
		if err := r.client.Expire(ctx, k, r.window+time.Second).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return n <= r.limit, nil
}

// Connect opens a Redis client from an address or a redis:// URL.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
