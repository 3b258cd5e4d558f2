package apikey

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/gatekit/gatekit"
)

// Cache is an in-process API key cache backed by ristretto. It is the fast
// primary tier in front of an authoritative fallback validator: it only ever
// holds keys that some other tier has already accepted.
type Cache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

type cacheEntry struct {
	config *gatekit.Config
}

// NewCache creates an in-process cache. ttl bounds how long an entry is
// trusted without revalidation; zero means DefaultCacheTTL.
func NewCache(ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: cache, defaultTTL: ttl}, nil
}

// ValidateKey reports whether the key is cached. A miss is not a verdict on
// the key, only on the cache; the middleware falls through to the
// authoritative tier.
func (c *Cache) ValidateKey(_ context.Context, key string) (Validation, error) {
	val, ok := c.cache.Get(key)
	if !ok {
		return Invalid(), nil
	}
	entry := val.(cacheEntry)
	return Validation{Valid: true, KeyID: key, Config: entry.config}, nil
}

// CacheKey stores a validated key with its quota override.
func (c *Cache) CacheKey(_ context.Context, key string, cfg *gatekit.Config, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.cache.SetWithTTL(key, cacheEntry{config: cfg}, 1, ttl)
	return nil
}

// Invalidate drops a key from the cache, e.g. after revocation.
func (c *Cache) Invalidate(key string) {
	c.cache.Del(key)
}

// Wait blocks until pending cache writes are applied. Ristretto admits
// asynchronously; call this when a subsequent read must observe a write,
// as tests do.
func (c *Cache) Wait() {
	c.cache.Wait()
}

// Close releases the cache's resources.
func (c *Cache) Close() {
	c.cache.Close()
}
