package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentPulse/internal/domain"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
	"github.com/Strob0t/AgentPulse/internal/domain/alert"
	"github.com/Strob0t/AgentPulse/internal/domain/budget"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
	"github.com/Strob0t/AgentPulse/internal/domain/health"
	"github.com/Strob0t/AgentPulse/internal/domain/session"
	"github.com/Strob0t/AgentPulse/internal/domain/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type deleteCall struct {
	table  string
	cutoff time.Time
	limit  int
}

// fakeStore is an in-memory store.Store with the same upsert/append/patch
// semantics as the real adapter.
type fakeStore struct {
	mu sync.Mutex

	agents       map[string]*agent.Agent // by name
	sessions     map[string]*session.Session
	costs        []cost.Entry
	activities   []activity.Entry
	healthChecks []health.Check
	stats        map[string]stats.Delta
	budgets      []budget.Budget
	rules        []alert.Rule
	alerts       []alert.Alert

	costSince  float64
	errorCount int64

	deletes         []deleteCall
	resolvedDeletes []deleteCall

	failCostInsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:   make(map[string]*agent.Agent),
		sessions: make(map[string]*session.Session),
		stats:    make(map[string]stats.Delta),
	}
}

func (f *fakeStore) EnsureAgent(_ context.Context, a *agent.Agent) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.agents[a.Name]; ok {
		existing.Status = a.Status
		existing.LastHeartbeat = a.LastHeartbeat
		existing.LastSeen = a.LastSeen
		out := *existing
		return &out, nil
	}
	stored := *a
	stored.ID = uuid.New().String()
	f.agents[a.Name] = &stored
	out := stored
	return &out, nil
}

func (f *fakeStore) GetAgentByName(_ context.Context, name string) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (f *fakeStore) ListAgents(_ context.Context) ([]agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agent.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) UpsertSession(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *s
	f.sessions[s.AgentID+"|"+s.Key] = &stored
	return nil
}

func (f *fakeStore) InsertCostRecord(_ context.Context, e *cost.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCostInsert {
		return fmt.Errorf("insert cost record: forced failure")
	}
	f.costs = append(f.costs, *e)
	return nil
}

func (f *fakeStore) InsertActivity(_ context.Context, a *activity.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, *a)
	return nil
}

func (f *fakeStore) InsertHealthCheck(_ context.Context, c *health.Check) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthChecks = append(f.healthChecks, *c)
	return nil
}

func (f *fakeStore) PatchStats(_ context.Context, deltas map[string]stats.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, d := range deltas {
		cur := f.stats[key]
		cur.CostUSD = cost.Round4(cur.CostUSD + d.CostUSD)
		cur.InputTokens += d.InputTokens
		cur.OutputTokens += d.OutputTokens
		cur.Requests += d.Requests
		f.stats[key] = cur
	}
	return nil
}

func (f *fakeStore) GetStats(_ context.Context, key string) (*stats.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.stats[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &stats.Row{Key: key, Delta: d}, nil
}

func (f *fakeStore) ListActiveBudgets(_ context.Context) ([]budget.Budget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]budget.Budget(nil), f.budgets...), nil
}

func (f *fakeStore) UpdateBudget(_ context.Context, b *budget.Budget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.budgets {
		if f.budgets[i].ID == b.ID {
			f.budgets[i] = *b
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ListActiveAlertRules(_ context.Context) ([]alert.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Rule(nil), f.rules...), nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a *alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeStore) MarkRuleTriggered(_ context.Context, ruleID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == ruleID {
			t := at
			f.rules[i].LastTriggered = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) CostSince(_ context.Context, _ string, _ time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.costSince, nil
}

func (f *fakeStore) ErrorCountSince(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errorCount, nil
}

func (f *fakeStore) DeleteOlderThan(_ context.Context, table string, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{table: table, cutoff: cutoff, limit: limit})
	return 1, nil
}

func (f *fakeStore) DeleteResolvedAlertsBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolvedDeletes = append(f.resolvedDeletes, deleteCall{table: "alerts", cutoff: cutoff, limit: limit})
	return 1, nil
}

// fakeCache is a map-backed cache.Cache. TTLs are ignored.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type published struct {
	subject string
	data    []byte
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.subject
	}
	return out
}
