// Package store defines the atomic counter backend for gatekit's fixed-window
// rate limiter, with a Redis implementation for distributed deployments and an
// in-memory implementation for single instances and tests.
//
// Both implementations follow increment-first semantics: the counter is
// advanced atomically and the post-increment count decides admission, so two
// concurrent callers can never both claim the last slot of a window. Backend
// failures fail closed; the caller denies the request rather than allowing on
// uncertainty.
package store

import (
	"context"
	"strings"

	"github.com/gatekit/gatekit"
)

// DefaultPrefix namespaces bucket keys so limiter counters never collide with
// other keys in a shared backend.
const DefaultPrefix = "gatekit:"

// Store is the counter backend contract. Implementations must be safe for
// concurrent use; within one bucket, concurrent increments behave as if
// serialized.
type Store interface {
	// Increment advances the bucket's counter and evaluates the quota.
	// A new window starts when the bucket has no live counter; its TTL is
	// set to cfg.Window. Denied decisions report RetryAfter; allowed
	// decisions report Remaining and ResetAfter.
	Increment(ctx context.Context, b gatekit.Bucket, cfg gatekit.Config) (gatekit.Decision, error)

	// Reset clears the bucket's counter immediately. Resetting a bucket
	// that does not exist succeeds.
	Reset(ctx context.Context, b gatekit.Bucket) error

	// Close releases any resources held by the store.
	Close() error
}

// Key builds the backend key for a bucket:
//
//	{prefix}{identity-kind}:{identity-value}:{method}:{path}
//
// Method and path participate verbatim, so the same identity on different
// routes maps to different counters.
func Key(prefix string, b gatekit.Bucket) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(b.Identity.Kind) + len(b.Identity.Value) + len(b.Method) + len(b.Path) + 3)
	sb.WriteString(prefix)
	sb.WriteString(string(b.Identity.Kind))
	sb.WriteByte(':')
	sb.WriteString(b.Identity.Value)
	sb.WriteByte(':')
	sb.WriteString(b.Method)
	sb.WriteByte(':')
	sb.WriteString(b.Path)
	return sb.String()
}
