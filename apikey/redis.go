package apikey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatekit/gatekit"
)

// DefaultKeyPrefix namespaces cached API keys in Redis.
const DefaultKeyPrefix = "gatekit:api_keys"

// redisConfig is the wire form of a per-key quota stored alongside a cached
// key. The reset policy is not serialized; per-key overrides only adjust the
// quota itself.
type redisConfig struct {
	MaxRequests   int   `json:"max_requests"`
	WindowSeconds int64 `json:"window_seconds"`
}

// RedisKeys is a Redis-backed API key cache shared across instances. A key is
// valid while its entry exists; an optional per-key quota lives in a sibling
// config entry. Suited as the primary tier in distributed deployments, with
// the authoritative validator as fallback.
type RedisKeys struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisKeys creates a Redis key cache on an existing client.
func NewRedisKeys(client *redis.Client, prefix string) *RedisKeys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisKeys{
		client:     client,
		prefix:     prefix,
		defaultTTL: 24 * time.Hour,
	}
}

func (s *RedisKeys) keyFor(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisKeys) configKeyFor(key string) string {
	return s.prefix + ":config:" + key
}

// ValidateKey checks key existence and loads the per-key quota when present.
// A corrupt config entry falls back to no override rather than rejecting a
// key that is otherwise valid.
func (s *RedisKeys) ValidateKey(ctx context.Context, key string) (Validation, error) {
	exists, err := s.client.Exists(ctx, s.keyFor(key)).Result()
	if err != nil {
		return Invalid(), fmt.Errorf("redis exists failed: %w", err)
	}
	if exists == 0 {
		return Invalid(), nil
	}

	raw, err := s.client.Get(ctx, s.configKeyFor(key)).Result()
	if err == redis.Nil {
		return Valid(key), nil
	}
	if err != nil {
		return Valid(key), nil
	}

	var wire redisConfig
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Valid(key), nil
	}

	return ValidWithConfig(key, gatekit.Config{
		MaxRequests: wire.MaxRequests,
		Window:      time.Duration(wire.WindowSeconds) * time.Second,
	}), nil
}

// CacheKey stores a validated key and, when cfg is non-nil, its quota.
func (s *RedisKeys) CacheKey(ctx context.Context, key string, cfg *gatekit.Config, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.client.Set(ctx, s.keyFor(key), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache API key: %w", err)
	}

	if cfg == nil {
		return nil
	}

	raw, err := json.Marshal(redisConfig{
		MaxRequests:   cfg.MaxRequests,
		WindowSeconds: int64(cfg.Window.Seconds()),
	})
	if err != nil {
		return gatekit.SerializationError("failed to serialize key config")
	}
	if err := s.client.Set(ctx, s.configKeyFor(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache API key config: %w", err)
	}
	return nil
}

// Invalidate removes one key and its config from the cache.
func (s *RedisKeys) Invalidate(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyFor(key), s.configKeyFor(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate API key: %w", err)
	}
	return nil
}

// InvalidateAll removes every cached key under the prefix, e.g. after bulk
// key rotation. Returns the number of entries removed.
func (s *RedisKeys) InvalidateAll(ctx context.Context) (int, error) {
	var deleted int
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("failed to delete cached key: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("key scan failed: %w", err)
	}
	return deleted, nil
}
