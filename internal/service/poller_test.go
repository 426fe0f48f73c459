package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/domain/agent"
)

type fakeInvoker struct {
	result json.RawMessage
	err    error
	calls  []string
}

func (f *fakeInvoker) Invoke(_ context.Context, tool string, _ any) (json.RawMessage, error) {
	f.calls = append(f.calls, tool)
	return f.result, f.err
}

func TestPollUpsertsSessionsAndHealth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := now.Add(-time.Minute).UnixMilli()
	stale := now.Add(-time.Hour).UnixMilli()

	inv := &fakeInvoker{result: json.RawMessage(fmt.Sprintf(
		`{"sessions":[`+
			`{"key":"main:bot:1","displayName":"Main","channel":"ops","lastActivity":%d,"totalTokens":1200},`+
			`{"key":"task:bot:2","lastActivity":%d},`+
			`{"key":"garbage"},`+
			`{"key":"main:other:1","lastActivity":%d}`+
			`]}`, active, stale, active))}

	st := newFakeStore()
	p := NewPoller(config.Poller{Interval: time.Second, SessionLimit: 500}, inv, st, nil, testLogger())
	p.now = func() time.Time { return now }

	if err := p.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "sessions.list" {
		t.Fatalf("invoked %v", inv.calls)
	}

	if len(st.agents) != 2 {
		t.Fatalf("created %d agents, want 2 (bad key skipped)", len(st.agents))
	}
	bot, err := st.GetAgentByName(context.Background(), "bot")
	if err != nil {
		t.Fatal(err)
	}

	if len(st.sessions) != 3 {
		t.Fatalf("upserted %d sessions, want 3", len(st.sessions))
	}
	s := st.sessions[bot.ID+"|main:bot:1"]
	if s == nil {
		t.Fatal("main:bot:1 not upserted")
	}
	if s.Kind != "main" || s.DisplayName != "Main" || s.Channel != "ops" || s.TotalTokens != 1200 {
		t.Errorf("session = %+v", s)
	}

	if len(st.healthChecks) != 2 {
		t.Fatalf("recorded %d health checks, want 2", len(st.healthChecks))
	}
	for _, hc := range st.healthChecks {
		if hc.AgentID == bot.ID {
			if hc.TotalSessions != 2 || hc.ActiveSessions != 1 {
				t.Errorf("bot health = %d/%d active/total, want 1/2", hc.ActiveSessions, hc.TotalSessions)
			}
			if hc.Status != agent.StatusOnline {
				t.Errorf("bot status = %s, want online", hc.Status)
			}
		}
	}
}

func TestPollFailureReturnsError(t *testing.T) {
	inv := &fakeInvoker{err: fmt.Errorf("gateway unreachable")}
	p := NewPoller(config.Poller{Interval: time.Second}, inv, newFakeStore(), nil, testLogger())

	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("poll with failing RPC returned nil")
	}
}

func TestPollerStartsPaused(t *testing.T) {
	p := NewPoller(config.Poller{Interval: time.Second}, &fakeInvoker{}, newFakeStore(), nil, testLogger())
	if !p.paused.Load() {
		t.Fatal("poller not paused before first authentication")
	}
	p.Resume()
	if p.paused.Load() {
		t.Fatal("poller still paused after Resume")
	}
	p.Pause()
	if !p.paused.Load() {
		t.Fatal("poller not paused after Pause")
	}
}
