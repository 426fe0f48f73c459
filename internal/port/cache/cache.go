// Package cache defines the byte cache port backing the dedup guard.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd byte cache. The dedup guard stores seen cost-entry keys
// in it; expiry bounds memory without explicit sweeps.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
