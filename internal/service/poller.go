package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentPulse/internal/adapter/otel"
	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/health"
	"github.com/Strob0t/AgentPulse/internal/domain/session"
	"github.com/Strob0t/AgentPulse/internal/port/store"
)

// Invoker is the request/response RPC surface the poller needs.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args any) (json.RawMessage, error)
}

// remoteSession is one session as reported by the gateway's sessions.list
// tool. No message bodies are requested.
type remoteSession struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Model        string `json:"model,omitempty"`
	StartedAt    int64  `json:"startedAt,omitempty"`    // unix ms
	LastActivity int64  `json:"lastActivity,omitempty"` // unix ms
	TotalTokens  int64  `json:"totalTokens,omitempty"`
}

type sessionsListResult struct {
	Sessions []remoteSession `json:"sessions"`
}

// Poller pulls the full session list over RPC on a fixed interval as a
// durable supplement to the push channel. It runs only while the gateway
// connection is authenticated; the connection manager pauses and resumes it
// across reconnects. Poll failures are logged and never stop later polls.
type Poller struct {
	cfg     config.Poller
	rpc     Invoker
	store   store.Store
	metrics *otel.Metrics
	log     *slog.Logger

	paused atomic.Bool
	now    func() time.Time
}

// NewPoller creates a session poller, initially paused until the first
// authenticated connection.
func NewPoller(cfg config.Poller, rpc Invoker, s store.Store, m *otel.Metrics, log *slog.Logger) *Poller {
	p := &Poller{cfg: cfg, rpc: rpc, store: s, metrics: m, log: log, now: time.Now}
	p.paused.Store(true)
	return p
}

// Resume lets polls run again; called when the gateway authenticates.
func (p *Poller) Resume() { p.paused.Store(false) }

// Pause suspends polling; called when the gateway connection drops.
func (p *Poller) Pause() { p.paused.Store(true) }

// Run polls on the configured interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.paused.Load() {
				continue
			}
			if err := p.Poll(ctx); err != nil {
				p.metrics.PollFailure(ctx)
				p.log.Error("session poll failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll fetches the session list once, upserts agents and sessions, and
// records one health sample per agent carrying the poll's round-trip
// latency. A session whose key does not parse is skipped on its own.
func (p *Poller) Poll(ctx context.Context) error {
	start := p.now()
	raw, err := p.rpc.Invoke(ctx, "sessions.list", map[string]any{
		"limit":    p.cfg.SessionLimit,
		"messages": false,
	})
	if err != nil {
		return fmt.Errorf("sessions.list: %w", err)
	}
	latency := p.now().Sub(start).Milliseconds()

	var result sessionsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode sessions.list result: %w", err)
	}

	now := p.now().UTC()
	type counts struct {
		id     string
		active int
		total  int
	}
	byAgent := make(map[string]*counts)

	for _, rs := range result.Sessions {
		kind, agentName, err := session.ParseKey(rs.Key)
		if err != nil {
			p.log.Debug("skipping session", "key", rs.Key, "error", err)
			continue
		}

		c := byAgent[agentName]
		if c == nil {
			a, err := p.store.EnsureAgent(ctx, &agent.Agent{
				Name:          agentName,
				Status:        agent.StatusOnline,
				LastHeartbeat: now,
				LastSeen:      now,
			})
			if err != nil {
				p.log.Error("ensure agent failed", "agent", agentName, "error", err)
				continue
			}
			c = &counts{id: a.ID}
			byAgent[agentName] = c
		}

		s := &session.Session{
			ID:           uuid.New().String(),
			AgentID:      c.id,
			Key:          rs.Key,
			Kind:         kind,
			DisplayName:  rs.DisplayName,
			Channel:      rs.Channel,
			StartedAt:    time.UnixMilli(rs.StartedAt).UTC(),
			LastActivity: time.UnixMilli(rs.LastActivity).UTC(),
			TotalTokens:  rs.TotalTokens,
		}
		if err := p.store.UpsertSession(ctx, s); err != nil {
			p.log.Error("upsert session failed", "key", rs.Key, "error", err)
			continue
		}

		c.total++
		if s.IsActive(now) {
			c.active++
		}
	}

	for name, c := range byAgent {
		check := &health.Check{
			ID:             uuid.New().String(),
			AgentID:        c.id,
			Status:         health.StatusFor(c.active, c.total),
			ActiveSessions: c.active,
			TotalSessions:  c.total,
			LatencyMS:      latency,
			CheckedAt:      now,
		}
		if err := p.store.InsertHealthCheck(ctx, check); err != nil {
			p.log.Error("insert health check failed", "agent", name, "error", err)
		}
	}

	p.log.Debug("session poll complete", "sessions", len(result.Sessions), "agents", len(byAgent), "latency_ms", latency)
	return nil
}
