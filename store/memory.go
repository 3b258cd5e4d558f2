package store

import (
	"context"
	"sync"
	"time"

	"github.com/gatekit/gatekit"
)

type memoryEntry struct {
	count      int
	expiration time.Time
}

// Memory is an in-memory implementation of Store. Suitable for
// single-instance deployments, development, and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[gatekit.Bucket]*memoryEntry
	stopCh  chan struct{}
}

// NewMemory creates an in-memory store with automatic cleanup of expired
// counters.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[gatekit.Bucket]*memoryEntry),
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()
	return m
}

func (m *Memory) Increment(_ context.Context, b gatekit.Bucket, cfg gatekit.Config) (gatekit.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return gatekit.Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, exists := m.entries[b]

	if !exists || now.After(entry.expiration) {
		m.entries[b] = &memoryEntry{
			count:      1,
			expiration: now.Add(cfg.Window),
		}
		return gatekit.Decision{
			Allowed:    true,
			Remaining:  cfg.MaxRequests - 1,
			ResetAfter: cfg.Window,
		}, nil
	}

	entry.count++
	ttl := max(0, entry.expiration.Sub(now))

	if entry.count > cfg.MaxRequests {
		retryAfter := ttl
		if retryAfter <= 0 {
			retryAfter = cfg.Window
		}
		return gatekit.Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
		}, nil
	}

	return gatekit.Decision{
		Allowed:    true,
		Remaining:  cfg.MaxRequests - entry.count,
		ResetAfter: ttl,
	}, nil
}

// Get retrieves the bucket's current count without incrementing. Returns 0
// for unknown or expired buckets.
func (m *Memory) Get(_ context.Context, b gatekit.Bucket) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[b]
	if !exists || time.Now().After(entry.expiration) {
		return 0, nil
	}

	return entry.count, nil
}

func (m *Memory) Reset(_ context.Context, b gatekit.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, b)
	return nil
}

func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			var expired []gatekit.Bucket

			m.mu.RLock()
			for b, entry := range m.entries {
				if now.After(entry.expiration) {
					expired = append(expired, b)
				}
			}
			m.mu.RUnlock()

			if len(expired) > 0 {
				m.mu.Lock()
				for _, b := range expired {
					delete(m.entries, b)
				}
				m.mu.Unlock()
			}
		case <-m.stopCh:
			return
		}
	}
}
