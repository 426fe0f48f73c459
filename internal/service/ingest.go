package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/AgentPulse/internal/adapter/otel"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/domain/stats"
	"github.com/Strob0t/AgentPulse/internal/port/broadcast"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// Engine applies accepted cost entries and activities to the store: cost
// records are inserted append-only, rolling aggregates are accumulated in
// memory and flushed as one additive patch per batch, and active budgets
// are rolled over and charged. Consistency across those writes is eventual;
// the dedup guard absorbs retries.
type Engine struct {
	store   store.Store
	pub     broadcast.Publisher
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewEngine creates an aggregation and budget engine. pub may be nil when
// no broker is configured.
func NewEngine(s store.Store, pub broadcast.Publisher, m *otel.Metrics, log *slog.Logger) *Engine {
	return &Engine{store: s, pub: pub, metrics: m, log: log}
}

// ApplyBatch ingests one batch of already-deduplicated entries and
// activities. A failed entry or activity is logged and skipped; the batch
// continues. The stats patch and budget updates cover only the entries
// whose cost record insert succeeded.
func (e *Engine) ApplyBatch(ctx context.Context, entries []*cost.Entry, acts []activity.Entry) error {
	acc := make(stats.Accumulator)
	var booked []*cost.Entry

	for _, entry := range entries {
		if err := e.store.InsertCostRecord(ctx, entry); err != nil {
			e.log.Error("insert cost record failed", "agent_id", entry.AgentID, "source", entry.SourceFile, "error", err)
			continue
		}
		acc.Apply(entry)
		booked = append(booked, entry)
		e.metrics.EntriesIngested(ctx, 1, entry.AgentID)
	}

	if err := e.applyBudgets(ctx, booked); err != nil {
		e.log.Error("budget update failed", "error", err)
	}

	for i := range acts {
		act := &acts[i]
		if err := e.store.InsertActivity(ctx, act); err != nil {
			e.log.Error("insert activity failed", "agent_id", act.AgentID, "type", act.Type, "error", err)
			continue
		}
		e.publishActivity(ctx, act)
	}

	if len(acc) == 0 {
		return nil
	}
	if err := e.store.PatchStats(ctx, acc); err != nil {
		return fmt.Errorf("patch stats: %w", err)
	}
	return nil
}

// applyBudgets charges every booked entry against each active budget that
// covers its agent, rolling the budget over first when the entry's
// timestamp has crossed the reset boundary. Only touched budgets are
// persisted.
func (e *Engine) applyBudgets(ctx context.Context, entries []*cost.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	budgets, err := e.store.ListActiveBudgets(ctx)
	if err != nil {
		return fmt.Errorf("list budgets: %w", err)
	}

	touched := make(map[string]bool)
	for _, entry := range entries {
		for i := range budgets {
			b := &budgets[i]
			if !b.AppliesTo(entry.AgentID) {
				continue
			}
			b.Apply(entry.CostUSD, entry.Timestamp)
			touched[b.ID] = true
		}
	}

	for i := range budgets {
		b := &budgets[i]
		if !touched[b.ID] {
			continue
		}
		if err := e.store.UpdateBudget(ctx, b); err != nil {
			e.log.Error("update budget failed", "budget_id", b.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) publishActivity(ctx context.Context, act *activity.Entry) {
	if e.pub == nil {
		return
	}
	data, err := json.Marshal(act)
	if err != nil {
		return
	}
	if err := e.pub.Publish(ctx, broadcast.SubjectActivityFeed, data); err != nil {
		e.log.Warn("publish activity failed", "error", err)
	}
}
