package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentPulse/internal/adapter/otel"
	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/alert"
	"github.com/Strob0t/AgentPulse/internal/domain/budget"
	"github.com/Strob0t/AgentPulse/internal/port/broadcast"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// Evaluator scans active alert rules on a fixed interval, independent of
// the gateway connection state. A rule fires only when its condition holds
// and its cooldown has elapsed; firing writes an immutable alert, bumps the
// rule's lastTriggered, appends an alert_fired activity and publishes the
// alert downstream. Acknowledge/resolve are user mutations elsewhere and
// never feed back into cooldown timing.
type Evaluator struct {
	cfg     config.Alerts
	store   store.Store
	pub     broadcast.Publisher
	metrics *otel.Metrics
	log     *slog.Logger

	now func() time.Time
}

// NewEvaluator creates an alert evaluator. pub may be nil.
func NewEvaluator(cfg config.Alerts, s store.Store, pub broadcast.Publisher, m *otel.Metrics, log *slog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, store: s, pub: pub, metrics: m, log: log, now: time.Now}
}

// Run evaluates on the configured interval until ctx is cancelled.
func (ev *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(ev.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ev.EvaluateOnce(ctx); err != nil {
				ev.log.Error("alert evaluation failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EvaluateOnce runs one evaluation pass over all active rules. A rule that
// errors is skipped on its own; the pass continues.
func (ev *Evaluator) EvaluateOnce(ctx context.Context) error {
	now := ev.now().UTC()

	rules, err := ev.store.ListActiveAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("list alert rules: %w", err)
	}

	var budgets []budget.Budget
	budgetsLoaded := false

	for i := range rules {
		rule := &rules[i]
		if !rule.Eligible(now) {
			continue
		}

		switch rule.Type {
		case alert.RuleBudgetExceeded:
			if !budgetsLoaded {
				if budgets, err = ev.store.ListActiveBudgets(ctx); err != nil {
					ev.log.Error("list budgets failed", "error", err)
					continue
				}
				budgetsLoaded = true
			}
			ev.evalBudget(ctx, rule, budgets, now)
		case alert.RuleAgentOffline:
			ev.evalOffline(ctx, rule, now)
		case alert.RuleErrorSpike, alert.RuleCostSpike:
			ev.evalSpike(ctx, rule, now)
		default:
			ev.log.Warn("unknown alert rule type", "rule_id", rule.ID, "type", rule.Type)
		}
	}
	return nil
}

func (ev *Evaluator) evalBudget(ctx context.Context, rule *alert.Rule, budgets []budget.Budget, now time.Time) {
	for i := range budgets {
		b := &budgets[i]
		if rule.Config.AgentID != "" && b.AgentID != rule.Config.AgentID {
			continue
		}

		exceeded := b.Exceeded()
		if !exceeded && rule.Config.PercentThreshold > 0 {
			exceeded = b.PercentUsed() >= rule.Config.PercentThreshold
		}
		if !exceeded {
			continue
		}

		scope := "global"
		if b.AgentID != "" {
			scope = "agent " + b.AgentID
		}
		msg := fmt.Sprintf("%s %s budget at $%.4f of $%.2f limit (%.1f%%)",
			scope, b.Period, b.CurrentSpend, b.LimitUSD, b.PercentUsed())
		ev.fire(ctx, rule, b.AgentID, msg, now)

		if b.HardStop {
			ev.publish(ctx, broadcast.SubjectBudgetStop, b)
		}
		return
	}
}

func (ev *Evaluator) evalOffline(ctx context.Context, rule *alert.Rule, now time.Time) {
	agents, err := ev.store.ListAgents(ctx)
	if err != nil {
		ev.log.Error("list agents failed", "error", err)
		return
	}
	grace := time.Duration(rule.Config.WindowMinutes) * time.Minute

	for i := range agents {
		a := &agents[i]
		if rule.Config.AgentID != "" && a.ID != rule.Config.AgentID {
			continue
		}
		if now.Sub(a.LastHeartbeat) <= grace {
			continue
		}
		msg := fmt.Sprintf("agent %s silent for %s (last heartbeat %s)",
			a.Name, now.Sub(a.LastHeartbeat).Round(time.Second), a.LastHeartbeat.Format(time.RFC3339))
		ev.fire(ctx, rule, a.ID, msg, now)
		return
	}
}

func (ev *Evaluator) evalSpike(ctx context.Context, rule *alert.Rule, now time.Time) {
	window := time.Duration(rule.Config.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Hour
	}
	since := now.Add(-window)

	var observed float64
	var what string
	switch rule.Type {
	case alert.RuleErrorSpike:
		n, err := ev.store.ErrorCountSince(ctx, rule.Config.AgentID, since)
		if err != nil {
			ev.log.Error("error count query failed", "rule_id", rule.ID, "error", err)
			return
		}
		observed = float64(n)
		what = "errors"
	default:
		sum, err := ev.store.CostSince(ctx, rule.Config.AgentID, since)
		if err != nil {
			ev.log.Error("cost sum query failed", "rule_id", rule.ID, "error", err)
			return
		}
		observed = sum
		what = "spend"
	}

	hit := observed > rule.Config.Threshold
	if rule.Config.Comparison == "gte" {
		hit = observed >= rule.Config.Threshold
	}
	if !hit {
		return
	}

	msg := fmt.Sprintf("%s %.4f over last %s exceeds threshold %.4f",
		what, observed, window, rule.Config.Threshold)
	ev.fire(ctx, rule, rule.Config.AgentID, msg, now)
}

// fire records the alert, bumps cooldown state, appends the alert_fired
// activity and publishes downstream. Failures past the alert insert are
// logged but do not undo the firing.
func (ev *Evaluator) fire(ctx context.Context, rule *alert.Rule, agentID, msg string, now time.Time) {
	a := &alert.Alert{
		ID:       uuid.New().String(),
		RuleID:   rule.ID,
		Type:     rule.Type,
		Severity: rule.Severity,
		AgentID:  agentID,
		Message:  msg,
		FiredAt:  now,
	}
	if err := ev.store.InsertAlert(ctx, a); err != nil {
		ev.log.Error("insert alert failed", "rule_id", rule.ID, "error", err)
		return
	}
	if err := ev.store.MarkRuleTriggered(ctx, rule.ID, now); err != nil {
		ev.log.Error("mark rule triggered failed", "rule_id", rule.ID, "error", err)
	}
	rule.LastTriggered = &now

	if agentID != "" {
		act := &activity.Entry{
			ID:        uuid.New().String(),
			AgentID:   agentID,
			Type:      activity.TypeAlertFired,
			Summary:   activity.Truncate(msg),
			Timestamp: now,
		}
		if err := ev.store.InsertActivity(ctx, act); err != nil {
			ev.log.Error("insert alert activity failed", "rule_id", rule.ID, "error", err)
		}
	}

	ev.publish(ctx, broadcast.SubjectAlertPrefix+string(rule.Severity), a)
	ev.metrics.AlertFired(ctx, string(rule.Type))
	ev.log.Warn("alert fired", "rule_id", rule.ID, "type", rule.Type, "severity", rule.Severity, "message", msg)
}

func (ev *Evaluator) publish(ctx context.Context, subject string, v any) {
	if ev.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ev.pub.Publish(ctx, subject, data); err != nil {
		ev.log.Warn("publish failed", "subject", subject, "error", err)
	}
}
