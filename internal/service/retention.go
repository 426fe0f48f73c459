package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// Retention thresholds per table. Resolved alerts have their own path
// because unresolved alerts are never auto-deleted regardless of age.
var retentionAges = map[string]time.Duration{
	store.TableActivities:    30 * 24 * time.Hour,
	store.TableHealthChecks:  7 * 24 * time.Hour,
	store.TableCostRecords:   365 * 24 * time.Hour,
	store.TableFlaggedEvents: 90 * 24 * time.Hour,
}

const resolvedAlertAge = 90 * 24 * time.Hour

// Sweeper deletes expired rows in bounded oldest-first batches, so a large
// backlog drains over successive runs instead of one oversized delete.
type Sweeper struct {
	cfg   config.Retention
	store store.Store
	log   *slog.Logger

	now func() time.Time
}

// NewSweeper creates a retention sweeper.
func NewSweeper(cfg config.Retention, s store.Store, log *slog.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, store: s, log: log, now: time.Now}
}

// Run sweeps once at startup and then on the configured interval until ctx
// is cancelled. A failed table is logged and the sweep moves on.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	for {
		sw.SweepOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce runs one pass over every table with a retention threshold.
func (sw *Sweeper) SweepOnce(ctx context.Context) {
	now := sw.now().UTC()

	for table, age := range retentionAges {
		deleted, err := sw.store.DeleteOlderThan(ctx, table, now.Add(-age), sw.cfg.BatchSize)
		if err != nil {
			sw.log.Error("retention sweep failed", "table", table, "error", err)
			continue
		}
		if deleted > 0 {
			sw.log.Info("retention sweep", "table", table, "deleted", deleted)
		}
	}

	deleted, err := sw.store.DeleteResolvedAlertsBefore(ctx, now.Add(-resolvedAlertAge), sw.cfg.BatchSize)
	if err != nil {
		sw.log.Error("retention sweep failed", "table", "alerts", "error", err)
		return
	}
	if deleted > 0 {
		sw.log.Info("retention sweep", "table", "alerts", "deleted", deleted)
	}
}
