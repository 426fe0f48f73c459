package budget

import (
	"testing"
	"time"
)

func TestNextReset(t *testing.T) {
	ts := time.Date(2026, 8, 26, 14, 35, 10, 0, time.UTC) // a Wednesday

	cases := []struct {
		period Period
		want   time.Time
	}{
		{PeriodHourly, time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)},
		{PeriodDaily, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)},
		{PeriodWeekly, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)},
		{PeriodMonthly, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := NextReset(c.period, ts); !got.Equal(c.want) {
			t.Errorf("NextReset(%s) = %v, want %v", c.period, got, c.want)
		}
	}
}

func TestNextResetWeeklyOnMonday(t *testing.T) {
	monday := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	want := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	if got := NextReset(PeriodWeekly, monday); !got.Equal(want) {
		t.Errorf("NextReset weekly from Monday = %v, want next Monday %v", got, want)
	}
}

func TestApplyBeforeResetAccumulates(t *testing.T) {
	b := Budget{
		Period:  PeriodDaily,
		ResetAt: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
	}
	if rolled := b.Apply(0.5, time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)); rolled {
		t.Error("unexpected rollover before reset boundary")
	}
	b.Apply(0.25, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC))
	if b.CurrentSpend != 0.75 {
		t.Errorf("spend = %v, want 0.75", b.CurrentSpend)
	}
}

func TestApplyRolloverResetsBeforeAdding(t *testing.T) {
	b := Budget{
		Period:       PeriodDaily,
		CurrentSpend: 3.21,
		ResetAt:      time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
	}
	ts := time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC)
	if rolled := b.Apply(0.1, ts); !rolled {
		t.Fatal("expected rollover")
	}
	if b.CurrentSpend != 0.1 {
		t.Errorf("spend after rollover = %v, want 0.1 (old spend dropped first)", b.CurrentSpend)
	}
	if want := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC); !b.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v", b.ResetAt, want)
	}
}

func TestApplySequenceAcrossBoundaries(t *testing.T) {
	// Entries straddling two midnights: only the post-rollover entries count.
	b := Budget{
		Period:  PeriodDaily,
		ResetAt: time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
	}
	entries := []struct {
		usd float64
		ts  time.Time
	}{
		{1.00, time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)},
		{2.00, time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)},
		{0.10, time.Date(2026, 8, 27, 1, 0, 0, 0, time.UTC)},
		{0.20, time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)},
		{0.30, time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC)},
	}
	for _, e := range entries {
		b.Apply(e.usd, e.ts)
	}
	if b.CurrentSpend != 0.5 {
		t.Errorf("spend = %v, want 0.5 (only 08-28 entries)", b.CurrentSpend)
	}
}

func TestApplyTimestampExactlyAtResetRollsOver(t *testing.T) {
	reset := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	b := Budget{Period: PeriodDaily, CurrentSpend: 9, ResetAt: reset}
	if rolled := b.Apply(0.05, reset); !rolled {
		t.Error("timestamp == resetAt must roll over")
	}
	if b.CurrentSpend != 0.05 {
		t.Errorf("spend = %v, want 0.05", b.CurrentSpend)
	}
}

func TestAppliesTo(t *testing.T) {
	global := Budget{}
	if !global.AppliesTo("any") {
		t.Error("global budget should apply to every agent")
	}
	scoped := Budget{AgentID: "a1"}
	if !scoped.AppliesTo("a1") || scoped.AppliesTo("a2") {
		t.Error("scoped budget should apply to its agent only")
	}
}

func TestPercentUsed(t *testing.T) {
	b := Budget{LimitUSD: 10, CurrentSpend: 7.5}
	if got := b.PercentUsed(); got != 75 {
		t.Errorf("percent = %v, want 75", got)
	}
	unlimited := Budget{CurrentSpend: 5}
	if got := unlimited.PercentUsed(); got != 0 {
		t.Errorf("percent with no limit = %v, want 0", got)
	}
}
