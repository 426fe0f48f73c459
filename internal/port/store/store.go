// Package store defines the downstream record store port (interface).
package store

import (
	"context"
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/alert"
	"github.com/Strob0t/AgentPulse/internal/domain/budget"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/domain/health"
	"github.com/Strob0t/AgentPulse/internal/domain/session"
	"github.com/Strob0t/AgentPulse/internal/domain/stats"
)

// Table names with a retention threshold (see the retention sweeper).
const (
	TableActivities    = "activities"
	TableHealthChecks  = "health_checks"
	TableCostRecords   = "cost_records"
	TableFlaggedEvents = "flagged_events"
)

// Store is the port interface for the downstream record store. Upserts are
// idempotent by business key; inserts are append-only; the stats patch is
// additive. The pipeline relies on these semantics instead of cross-table
// transactions.
type Store interface {
	// Agents. EnsureAgent creates the agent on first sight (keyed by unique
	// name) and refreshes status/heartbeat fields on every later call.
	EnsureAgent(ctx context.Context, a *agent.Agent) (*agent.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*agent.Agent, error)
	ListAgents(ctx context.Context) ([]agent.Agent, error)

	// Sessions, keyed by (agent_id, session_key).
	UpsertSession(ctx context.Context, s *session.Session) error

	// Append-only ingestion records.
	InsertCostRecord(ctx context.Context, e *cost.Entry) error
	InsertActivity(ctx context.Context, a *activity.Entry) error
	InsertHealthCheck(ctx context.Context, c *health.Check) error

	// Stats cache: one additive patch per batch.
	PatchStats(ctx context.Context, deltas map[string]stats.Delta) error
	GetStats(ctx context.Context, key string) (*stats.Row, error)

	// Budgets.
	ListActiveBudgets(ctx context.Context) ([]budget.Budget, error)
	UpdateBudget(ctx context.Context, b *budget.Budget) error

	// Alert rules and fired alerts.
	ListActiveAlertRules(ctx context.Context) ([]alert.Rule, error)
	InsertAlert(ctx context.Context, a *alert.Alert) error
	MarkRuleTriggered(ctx context.Context, ruleID string, at time.Time) error

	// Evaluator reads. An empty agentID means fleet-wide.
	CostSince(ctx context.Context, agentID string, since time.Time) (float64, error)
	ErrorCountSince(ctx context.Context, agentID string, since time.Time) (int64, error)

	// Retention. Deletes the oldest rows older than cutoff, at most limit.
	DeleteOlderThan(ctx context.Context, table string, cutoff time.Time, limit int) (int64, error)
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
