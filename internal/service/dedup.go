package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/port/cache"
)

// Guard prevents re-ingesting the same cost entry across tailer re-scans
// and live-push redundancy. Seen keys live in a TTL cache so expiry bounds
// memory without sweeps; independently, entries timestamped at or before
// the last successful scan watermark are skipped regardless of key novelty.
type Guard struct {
	cache cache.Cache
	ttl   time.Duration

	watermark atomic.Int64 // unix ms of the last successful scan start
}

// NewGuard creates a dedup guard remembering seen keys for ttl.
func NewGuard(c cache.Cache, ttl time.Duration) *Guard {
	return &Guard{cache: c, ttl: ttl}
}

var seenMarker = []byte{1}

// Admit reports whether the entry should be ingested, and records its key
// as seen when it should. Cache errors fail open: double-skipping a
// billable entry is worse than double-checking it downstream.
func (g *Guard) Admit(ctx context.Context, e *cost.Entry) bool {
	if wm := g.watermark.Load(); wm > 0 && e.Timestamp.UnixMilli() <= wm {
		return false
	}
	key := e.DedupKey()
	if _, ok, err := g.cache.Get(ctx, key); err == nil && ok {
		return false
	}
	_ = g.cache.Set(ctx, key, seenMarker, g.ttl)
	return true
}

// SetWatermark records the start time of a scan pass that completed
// successfully.
func (g *Guard) SetWatermark(t time.Time) {
	g.watermark.Store(t.UnixMilli())
}

// Watermark returns the last successful scan watermark, zero when no scan
// has completed yet.
func (g *Guard) Watermark() time.Time {
	wm := g.watermark.Load()
	if wm == 0 {
		return time.Time{}
	}
	return time.UnixMilli(wm).UTC()
}
