package service

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/alert"
	"github.com/Strob0t/AgentPulse/internal/domain/budget"
)

func newTestEvaluator(st *fakeStore, pub *fakePublisher, now time.Time) *Evaluator {
	ev := NewEvaluator(config.Alerts{Interval: time.Minute}, st, nil, nil, testLogger())
	if pub != nil {
		ev.pub = pub
	}
	ev.now = func() time.Time { return now }
	return ev
}

func exceededBudgetStore() *fakeStore {
	st := newFakeStore()
	st.budgets = []budget.Budget{{
		ID:           "b1",
		Period:       budget.PeriodDaily,
		LimitUSD:     1,
		CurrentSpend: 1.5,
		ResetAt:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
	}}
	st.rules = []alert.Rule{{
		ID:              "r1",
		Type:            alert.RuleBudgetExceeded,
		Severity:        alert.SeverityCritical,
		CooldownMinutes: 30,
		IsActive:        true,
	}}
	return st
}

func TestEvaluateBudgetExceededFires(t *testing.T) {
	st := exceededBudgetStore()
	pub := &fakePublisher{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := newTestEvaluator(st, pub, now)

	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(st.alerts))
	}
	a := st.alerts[0]
	if a.Type != alert.RuleBudgetExceeded || a.Severity != alert.SeverityCritical {
		t.Errorf("alert = %+v", a)
	}
	if st.rules[0].LastTriggered == nil || !st.rules[0].LastTriggered.Equal(now) {
		t.Error("lastTriggered not bumped")
	}
	subjects := pub.subjects()
	if len(subjects) != 1 || subjects[0] != "telemetry.alerts.critical" {
		t.Errorf("published %v, want [telemetry.alerts.critical]", subjects)
	}
}

func TestEvaluateCooldownGatesRefiring(t *testing.T) {
	fired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Condition still true 29 minutes later: cooldown holds the rule back.
	st := exceededBudgetStore()
	st.rules[0].LastTriggered = &fired
	ev := newTestEvaluator(st, nil, fired.Add(29*time.Minute))
	if err := ev.EvaluateOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 0 {
		t.Fatalf("fired during cooldown: %d alerts", len(st.alerts))
	}

	// 31 minutes later the rule is eligible again.
	st = exceededBudgetStore()
	st.rules[0].LastTriggered = &fired
	ev = newTestEvaluator(st, nil, fired.Add(31*time.Minute))
	if err := ev.EvaluateOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("did not fire after cooldown: %d alerts", len(st.alerts))
	}
}

func TestEvaluateBudgetPercentThreshold(t *testing.T) {
	st := newFakeStore()
	st.budgets = []budget.Budget{{
		ID:           "b1",
		Period:       budget.PeriodDaily,
		LimitUSD:     10,
		CurrentSpend: 8.5, // 85%, under the absolute limit
		ResetAt:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
	}}
	st.rules = []alert.Rule{{
		ID:       "r1",
		Type:     alert.RuleBudgetExceeded,
		Config:   alert.RuleConfig{PercentThreshold: 80},
		Severity: alert.SeverityWarning,
		IsActive: true,
	}}
	ev := newTestEvaluator(st, nil, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("percentage rule fired %d alerts, want 1", len(st.alerts))
	}
}

func TestEvaluateHardStopPublishes(t *testing.T) {
	st := exceededBudgetStore()
	st.budgets[0].HardStop = true
	pub := &fakePublisher{}
	ev := newTestEvaluator(st, pub, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	subjects := pub.subjects()
	found := false
	for _, s := range subjects {
		if s == "telemetry.budget.hardstop" {
			found = true
		}
	}
	if !found {
		t.Errorf("hardstop not published, got %v", subjects)
	}
}

func TestEvaluateAgentOffline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.agents["bot"] = &agent.Agent{
		ID:            "a1",
		Name:          "bot",
		LastHeartbeat: now.Add(-20 * time.Minute),
	}
	st.rules = []alert.Rule{{
		ID:       "r1",
		Type:     alert.RuleAgentOffline,
		Config:   alert.RuleConfig{WindowMinutes: 10},
		Severity: alert.SeverityCritical,
		IsActive: true,
	}}
	ev := newTestEvaluator(st, nil, now)

	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(st.alerts))
	}
	if st.alerts[0].AgentID != "a1" {
		t.Errorf("alert agent = %s, want a1", st.alerts[0].AgentID)
	}
	// The firing is visible on the agent's activity feed.
	if len(st.activities) != 1 || st.activities[0].Type != activity.TypeAlertFired {
		t.Errorf("activities = %+v, want one alert_fired", st.activities)
	}
}

func TestEvaluateAgentWithinGraceStaysQuiet(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.agents["bot"] = &agent.Agent{ID: "a1", Name: "bot", LastHeartbeat: now.Add(-5 * time.Minute)}
	st.rules = []alert.Rule{{
		ID:       "r1",
		Type:     alert.RuleAgentOffline,
		Config:   alert.RuleConfig{WindowMinutes: 10},
		IsActive: true,
	}}
	ev := newTestEvaluator(st, nil, now)

	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 0 {
		t.Fatalf("fired %d alerts for a live agent, want 0", len(st.alerts))
	}
}

func TestEvaluateSpikes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	st := newFakeStore()
	st.errorCount = 12
	st.rules = []alert.Rule{{
		ID:       "err",
		Type:     alert.RuleErrorSpike,
		Config:   alert.RuleConfig{Threshold: 10, WindowMinutes: 15},
		IsActive: true,
	}}
	ev := newTestEvaluator(st, nil, now)
	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("error spike fired %d alerts, want 1", len(st.alerts))
	}

	st = newFakeStore()
	st.costSince = 5
	st.rules = []alert.Rule{{
		ID:       "cost",
		Type:     alert.RuleCostSpike,
		Config:   alert.RuleConfig{Threshold: 5, WindowMinutes: 60},
		IsActive: true,
	}}
	ev = newTestEvaluator(st, nil, now)
	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Default comparison is strict: observed == threshold does not fire.
	if len(st.alerts) != 0 {
		t.Fatalf("cost spike fired at threshold with gt comparison")
	}

	st.rules[0].Config.Comparison = "gte"
	ev = newTestEvaluator(st, nil, now)
	if err := ev.EvaluateOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.alerts) != 1 {
		t.Fatalf("cost spike with gte fired %d alerts, want 1", len(st.alerts))
	}
}
