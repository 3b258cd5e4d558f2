package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatekit/gatekit"
)

// Redis is a Redis-backed implementation of Store. Counters are plain string
// keys advanced with INCR, so any Redis-compatible backend works.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Prefix   string
}

// NewRedis creates a Redis store and verifies connectivity.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		prefix: config.Prefix,
	}, nil
}

// NewRedisFromClient wraps an existing client, e.g. one shared with the API
// key cache.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Increment advances the bucket's counter and evaluates the quota.
//
// The INCR runs before the limit check and the post-increment count is
// authoritative: when it exceeds MaxRequests the request is denied without
// touching the TTL, so two concurrent callers can never both pass with one
// slot left. ExpireNX pins the window TTL on whichever command created the
// key, which also repairs counters that lost their TTL.
func (r *Redis) Increment(ctx context.Context, b gatekit.Bucket, cfg gatekit.Config) (gatekit.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return gatekit.Decision{}, err
	}

	key := Key(r.prefix, b)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, cfg.Window)
	ttlCmd := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return gatekit.Decision{}, fmt.Errorf("redis increment failed: %w", err)
	}

	count := int(incr.Val())
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		ttl = cfg.Window
	}

	if count > cfg.MaxRequests {
		return gatekit.Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: ttl,
		}, nil
	}

	return gatekit.Decision{
		Allowed:    true,
		Remaining:  cfg.MaxRequests - count,
		ResetAfter: ttl,
	}, nil
}

// Get retrieves the bucket's current count without incrementing.
func (r *Redis) Get(ctx context.Context, b gatekit.Bucket) (int, error) {
	val, err := r.client.Get(ctx, Key(r.prefix, b)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Reset removes the bucket's counter. Deleting a missing key succeeds.
func (r *Redis) Reset(ctx context.Context, b gatekit.Bucket) error {
	if err := r.client.Del(ctx, Key(r.prefix, b)).Err(); err != nil {
		return fmt.Errorf("redis reset failed: %w", err)
	}
	return nil
}

// Close releases resources held by the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
