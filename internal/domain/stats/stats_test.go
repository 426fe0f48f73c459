package stats

import (
	"testing"
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/cost"
)

func entryAt(ts time.Time, agentID, model string, usd float64) *cost.Entry {
	return &cost.Entry{
		AgentID:      agentID,
		Model:        model,
		CostUSD:      usd,
		InputTokens:  100,
		OutputTokens: 50,
		Timestamp:    ts,
	}
}

func TestKeys(t *testing.T) {
	ts := time.Date(2026, 8, 30, 14, 22, 3, 0, time.UTC)
	got := Keys(entryAt(ts, "a1", "opus", 0.01))
	want := []string{
		"today:2026-08-30",
		"hour:2026-08-30T14",
		"model:2026-08-30:opus",
		"agent:a1:day:2026-08-30",
		"agent:a1:hour:2026-08-30T14",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeysUseUTCBuckets(t *testing.T) {
	loc := time.FixedZone("plus5", 5*3600)
	ts := time.Date(2026, 8, 31, 2, 0, 0, 0, loc) // 2026-08-30T21 UTC
	got := Keys(entryAt(ts, "a1", "opus", 0.01))
	if got[0] != "today:2026-08-30" {
		t.Errorf("daily key = %q, want UTC date", got[0])
	}
	if got[1] != "hour:2026-08-30T21" {
		t.Errorf("hourly key = %q, want UTC hour", got[1])
	}
}

func TestAccumulatorSumsWithinHourBucket(t *testing.T) {
	acc := make(Accumulator)
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i, usd := range []float64{0.01, 0.02, 0.03} {
		acc.Apply(entryAt(base.Add(time.Duration(i)*time.Minute), "a", "opus", usd))
	}

	d := acc["agent:a:hour:2026-08-30T09"]
	if d.CostUSD != 0.06 {
		t.Errorf("hourly cost = %v, want 0.06", d.CostUSD)
	}
	if d.Requests != 3 {
		t.Errorf("requests = %d, want 3", d.Requests)
	}
	if d.InputTokens != 300 || d.OutputTokens != 150 {
		t.Errorf("tokens = %d/%d, want 300/150", d.InputTokens, d.OutputTokens)
	}
}

func TestAccumulatorRoundsAtBoundary(t *testing.T) {
	acc := make(Accumulator)
	ts := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	// 0.1 + 0.2 in binary floats drifts without boundary rounding.
	acc.Apply(entryAt(ts, "a", "opus", 0.1))
	acc.Apply(entryAt(ts, "a", "opus", 0.2))
	if got := acc["today:2026-08-30"].CostUSD; got != 0.3 {
		t.Errorf("cost = %v, want 0.3", got)
	}
}

func TestRound4(t *testing.T) {
	if got := cost.Round4(0.123456); got != 0.1235 {
		t.Errorf("Round4 = %v", got)
	}
	if got := cost.Round4(0.10000000001); got != 0.1 {
		t.Errorf("Round4 = %v", got)
	}
}
