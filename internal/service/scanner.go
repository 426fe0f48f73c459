package service

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Strob0t/AgentPulse/internal/adapter/otel"
	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// Scanner drives the ingestion pipeline: on a fixed interval it tails every
// transcript under <dir>/<agent>/sessions/*.jsonl, normalizes and
// deduplicates what came out, and hands one batch to the engine. It also
// receives live gateway push events via HandleEvent, which share the same
// normalize/dedup/apply path.
type Scanner struct {
	cfg     config.Transcripts
	tailer  *Tailer
	guard   *Guard
	engine  *Engine
	store   store.Store
	metrics *otel.Metrics
	log     *slog.Logger

	now func() time.Time
}

// NewScanner creates a transcript scanner.
func NewScanner(cfg config.Transcripts, tl *Tailer, g *Guard, eng *Engine, s store.Store, m *otel.Metrics, log *slog.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		tailer:  tl,
		guard:   g,
		engine:  eng,
		store:   s,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Run scans on the configured interval until ctx is cancelled. Scan
// failures are logged; the next tick proceeds regardless.
func (sc *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if err := sc.Scan(ctx); err != nil {
			sc.log.Error("transcript scan failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Scan performs one pass over the transcript tree. Lines from the same file
// are processed in file order; files are independent. Per-file read errors
// and per-line data errors are skipped at their own granularity; the
// watermark advances only when the batch applied cleanly.
func (sc *Scanner) Scan(ctx context.Context) error {
	start := sc.now().UTC()

	agentDirs, err := os.ReadDir(sc.cfg.Dir)
	if err != nil {
		return err
	}

	var entries []*cost.Entry
	var acts []activity.Entry

	for _, dir := range agentDirs {
		if !dir.IsDir() {
			continue
		}
		agentName := dir.Name()
		paths, err := filepath.Glob(filepath.Join(sc.cfg.Dir, agentName, "sessions", "*.jsonl"))
		if err != nil || len(paths) == 0 {
			continue
		}
		sort.Strings(paths)

		var agentID string
		for _, path := range paths {
			lines, err := sc.tailer.ReadNew(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					sc.tailer.Forget(path)
					continue
				}
				sc.log.Warn("tail failed", "file", path, "error", err)
				continue
			}
			if len(lines) == 0 {
				continue
			}

			if agentID == "" {
				a, err := sc.ensureAgent(ctx, agentName, start)
				if err != nil {
					sc.log.Error("ensure agent failed", "agent", agentName, "error", err)
					break
				}
				agentID = a.ID
			}

			for _, ln := range lines {
				n, err := NormalizeLine(ln)
				if err != nil {
					sc.log.Debug("skipping transcript line", "error", err)
					continue
				}
				if n == nil {
					continue
				}
				if n.Cost != nil {
					n.Cost.AgentID = agentID
					if sc.guard.Admit(ctx, n.Cost) {
						entries = append(entries, n.Cost)
					} else {
						sc.metrics.DuplicatesDropped(ctx, 1)
					}
				}
				for i := range n.Activities {
					n.Activities[i].AgentID = agentID
				}
				acts = append(acts, n.Activities...)
			}
		}
	}

	acts = capActivities(acts, sc.cfg.ActivityCap)

	if len(entries) == 0 && len(acts) == 0 {
		sc.guard.SetWatermark(start)
		return nil
	}
	if err := sc.engine.ApplyBatch(ctx, entries, acts); err != nil {
		return err
	}
	sc.guard.SetWatermark(start)
	sc.log.Info("transcript scan applied", "entries", len(entries), "activities", len(acts))
	return nil
}

// HandleEvent ingests one live gateway push event. It satisfies the
// gateway client's event handler: data errors are logged and dropped, never
// propagated to the connection.
func (sc *Scanner) HandleEvent(ctx context.Context, kind string, payload json.RawMessage) {
	n, err := NormalizePush(kind, payload, sc.now().UTC())
	if err != nil {
		sc.log.Debug("skipping push event", "kind", kind, "error", err)
		return
	}

	a, err := sc.ensureAgent(ctx, n.AgentName, sc.now().UTC())
	if err != nil {
		sc.log.Error("ensure agent failed", "agent", n.AgentName, "error", err)
		return
	}

	var entries []*cost.Entry
	if n.Cost != nil {
		n.Cost.AgentID = a.ID
		if sc.guard.Admit(ctx, n.Cost) {
			entries = append(entries, n.Cost)
		} else {
			sc.metrics.DuplicatesDropped(ctx, 1)
		}
	}
	for i := range n.Activities {
		n.Activities[i].AgentID = a.ID
	}

	if err := sc.engine.ApplyBatch(ctx, entries, n.Activities); err != nil {
		sc.log.Error("push ingest failed", "kind", kind, "error", err)
	}
}

func (sc *Scanner) ensureAgent(ctx context.Context, name string, seen time.Time) (*agent.Agent, error) {
	return sc.store.EnsureAgent(ctx, &agent.Agent{
		Name:          name,
		Status:        agent.StatusOnline,
		LastHeartbeat: seen,
		LastSeen:      seen,
	})
}

// capActivities keeps the newest limit activities so a backlog catch-up
// cannot flood the feed. Relative order of the kept entries is preserved.
func capActivities(acts []activity.Entry, limit int) []activity.Entry {
	if limit <= 0 || len(acts) <= limit {
		return acts
	}
	idx := make([]int, len(acts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return acts[idx[a]].Timestamp.Before(acts[idx[b]].Timestamp)
	})
	keep := make(map[int]bool, limit)
	for _, i := range idx[len(idx)-limit:] {
		keep[i] = true
	}
	out := acts[:0]
	for i := range acts {
		if keep[i] {
			out = append(out, acts[i])
		}
	}
	return out
}
