package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentPulse/internal/domain"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/alert"
	"github.com/Strob0t/AgentPulse/internal/domain/budget"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/domain/health"
	"github.com/Strob0t/AgentPulse/internal/domain/session"
	"github.com/Strob0t/AgentPulse/internal/domain/stats"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// retentionColumns maps each prunable table to its timestamp column. Tables
// absent from this map are rejected by DeleteOlderThan.
var retentionColumns = map[string]string{
	store.TableActivities:    "ts",
	store.TableCostRecords:   "ts",
	store.TableFlaggedEvents: "ts",
	store.TableHealthChecks:  "checked_at",
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

// EnsureAgent upserts by unique name. On conflict the row keeps its identity
// and the rolling fields (status, heartbeat, last seen, config) are
// refreshed; greatest() keeps retried out-of-order ingests monotonic.
func (s *Store) EnsureAgent(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, gateway_url, status, last_heartbeat, last_seen, model, channel)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
		   status         = EXCLUDED.status,
		   last_heartbeat = greatest(agents.last_heartbeat, EXCLUDED.last_heartbeat),
		   last_seen      = greatest(agents.last_seen, EXCLUDED.last_seen),
		   gateway_url    = COALESCE(NULLIF(EXCLUDED.gateway_url, ''), agents.gateway_url),
		   model          = COALESCE(NULLIF(EXCLUDED.model, ''), agents.model),
		   channel        = COALESCE(NULLIF(EXCLUDED.channel, ''), agents.channel),
		   updated_at     = now()
		 RETURNING id, name, gateway_url, status, last_heartbeat, last_seen, model, channel, created_at, updated_at`,
		a.Name, a.GatewayURL, a.Status, nullTime(a.LastHeartbeat), nullTime(a.LastSeen), a.Config.Model, a.Config.Channel)

	out, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("ensure agent %s: %w", a.Name, err)
	}
	return &out, nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, gateway_url, status, last_heartbeat, last_seen, model, channel, created_at, updated_at
		 FROM agents WHERE name = $1`, name)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, gateway_url, status, last_heartbeat, last_seen, model, channel, created_at, updated_at
		 FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// --- Sessions ---

// UpsertSession is keyed by (agent_id, session_key). Rolling fields only:
// token and activity columns move forward, cost totals are never recomputed
// here.
func (s *Store) UpsertSession(ctx context.Context, sess *session.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (agent_id, session_key, kind, display_name, channel, started_at, last_activity, total_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (agent_id, session_key) DO UPDATE SET
		   display_name  = COALESCE(NULLIF(EXCLUDED.display_name, ''), sessions.display_name),
		   channel       = COALESCE(NULLIF(EXCLUDED.channel, ''), sessions.channel),
		   last_activity = greatest(sessions.last_activity, EXCLUDED.last_activity),
		   total_tokens  = greatest(sessions.total_tokens, EXCLUDED.total_tokens),
		   updated_at    = now()`,
		sess.AgentID, sess.Key, sess.Kind, sess.DisplayName, sess.Channel,
		nullTime(sess.StartedAt), nullTime(sess.LastActivity), sess.TotalTokens)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.Key, err)
	}
	return nil
}

// --- Append-only records ---

func (s *Store) InsertCostRecord(ctx context.Context, e *cost.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_records (agent_id, session_key, provider, model, input_tokens, output_tokens,
		                           cache_read_tokens, cache_write_tokens, cost_usd, source_file, source_offset, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.AgentID, e.SessionKey, e.Provider, e.Model, e.InputTokens, e.OutputTokens,
		e.CacheReadTokens, e.CacheWriteTokens, e.CostUSD, e.SourceFile, e.SourceOffset, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

func (s *Store) InsertActivity(ctx context.Context, a *activity.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (agent_id, type, summary, session_key, channel, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.AgentID, a.Type, a.Summary, a.SessionKey, a.Channel, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *Store) InsertHealthCheck(ctx context.Context, c *health.Check) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO health_checks (agent_id, status, active_sessions, total_sessions, latency_ms, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.AgentID, c.Status, c.ActiveSessions, c.TotalSessions, c.LatencyMS, c.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert health check: %w", err)
	}
	return nil
}

// --- Stats cache ---

// PatchStats applies additive deltas. Counters only ever accumulate, so a
// re-delivered patch for a distinct batch stays correct; same-batch retries
// are absorbed upstream by the dedup guard.
func (s *Store) PatchStats(ctx context.Context, deltas map[string]stats.Delta) error {
	batch := &pgx.Batch{}
	for key, d := range deltas {
		batch.Queue(
			`INSERT INTO stats_cache (key, cost_usd, input_tokens, output_tokens, requests, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (key) DO UPDATE SET
			   cost_usd      = round((stats_cache.cost_usd + EXCLUDED.cost_usd)::numeric, 4),
			   input_tokens  = stats_cache.input_tokens + EXCLUDED.input_tokens,
			   output_tokens = stats_cache.output_tokens + EXCLUDED.output_tokens,
			   requests      = stats_cache.requests + EXCLUDED.requests,
			   updated_at    = now()`,
			key, d.CostUSD, d.InputTokens, d.OutputTokens, d.Requests)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer func() { _ = res.Close() }()
	for range deltas {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("patch stats: %w", err)
		}
	}
	return nil
}

func (s *Store) GetStats(ctx context.Context, key string) (*stats.Row, error) {
	var r stats.Row
	err := s.pool.QueryRow(ctx,
		`SELECT key, cost_usd, input_tokens, output_tokens, requests, updated_at
		 FROM stats_cache WHERE key = $1`, key).
		Scan(&r.Key, &r.Delta.CostUSD, &r.Delta.InputTokens, &r.Delta.OutputTokens, &r.Delta.Requests, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get stats %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get stats %s: %w", key, err)
	}
	return &r, nil
}

// --- Budgets ---

func (s *Store) ListActiveBudgets(ctx context.Context) ([]budget.Budget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(agent_id::text, ''), period, limit_usd, current_spend, reset_at, hard_stop, is_active, created_at, updated_at
		 FROM budgets WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []budget.Budget
	for rows.Next() {
		var b budget.Budget
		if err := rows.Scan(&b.ID, &b.AgentID, &b.Period, &b.LimitUSD, &b.CurrentSpend,
			&b.ResetAt, &b.HardStop, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (s *Store) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE budgets SET current_spend = $2, reset_at = $3, updated_at = now() WHERE id = $1`,
		b.ID, b.CurrentSpend, b.ResetAt)
	if err != nil {
		return fmt.Errorf("update budget %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update budget %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Alert rules and alerts ---

func (s *Store) ListActiveAlertRules(ctx context.Context) ([]alert.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, config, severity, channels, cooldown_minutes, last_triggered, is_active, created_at, updated_at
		 FROM alert_rules WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []alert.Rule
	for rows.Next() {
		var (
			r            alert.Rule
			configJSON   []byte
			channelsJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Type, &configJSON, &r.Severity, &channelsJSON,
			&r.CooldownMinutes, &r.LastTriggered, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		if err := json.Unmarshal(configJSON, &r.Config); err != nil {
			return nil, fmt.Errorf("unmarshal rule config %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(channelsJSON, &r.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal rule channels %s: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) InsertAlert(ctx context.Context, a *alert.Alert) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (rule_id, type, severity, agent_id, message, fired_at)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6)
		 RETURNING id`,
		a.RuleID, a.Type, a.Severity, a.AgentID, a.Message, a.FiredAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) MarkRuleTriggered(ctx context.Context, ruleID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET last_triggered = $2, updated_at = now() WHERE id = $1`, ruleID, at)
	if err != nil {
		return fmt.Errorf("mark rule triggered %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark rule triggered %s: %w", ruleID, domain.ErrNotFound)
	}
	return nil
}

// --- Evaluator reads ---

func (s *Store) CostSince(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(round(sum(cost_usd)::numeric, 4), 0) FROM cost_records
		 WHERE ts >= $1 AND ($2 = '' OR agent_id = $2::uuid)`, since, agentID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cost since: %w", err)
	}
	return total, nil
}

func (s *Store) ErrorCountSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM activities
		 WHERE type = 'error' AND ts >= $1 AND ($2 = '' OR agent_id = $2::uuid)`, since, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error count since: %w", err)
	}
	return count, nil
}

// --- Retention ---

func (s *Store) DeleteOlderThan(ctx context.Context, table string, cutoff time.Time, limit int) (int64, error) {
	col, ok := retentionColumns[table]
	if !ok {
		return 0, fmt.Errorf("delete older than: table %q has no retention policy", table)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id IN (
		   SELECT id FROM %s WHERE %s < $1 ORDER BY %s ASC LIMIT $2
		 )`, table, table, col, col), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteResolvedAlertsBefore prunes old resolved alerts. Unresolved alerts
// are never auto-deleted regardless of age.
func (s *Store) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alerts WHERE id IN (
		   SELECT id FROM alerts
		   WHERE resolved_at IS NOT NULL AND resolved_at < $1
		   ORDER BY resolved_at ASC LIMIT $2
		 )`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete resolved alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (agent.Agent, error) {
	var (
		a                   agent.Agent
		heartbeat, lastSeen *time.Time
	)
	err := row.Scan(&a.ID, &a.Name, &a.GatewayURL, &a.Status, &heartbeat, &lastSeen,
		&a.Config.Model, &a.Config.Channel, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return agent.Agent{}, err
	}
	if heartbeat != nil {
		a.LastHeartbeat = *heartbeat
	}
	if lastSeen != nil {
		a.LastSeen = *lastSeen
	}
	return a, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
