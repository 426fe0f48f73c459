// Package budget defines spend budgets and their period rollover rules.
package budget

import (
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/cost"
)

// Period is a budget accounting window.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Budget caps spend per period, either globally (empty AgentID) or for one
// agent. CurrentSpend reflects only cost booked since the last rollover.
type Budget struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id,omitempty"` // empty = global
	Period       Period    `json:"period"`
	LimitUSD     float64   `json:"limit_usd"`
	CurrentSpend float64   `json:"current_spend"`
	ResetAt      time.Time `json:"reset_at"`
	HardStop     bool      `json:"hard_stop"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppliesTo reports whether this budget covers spend by the given agent.
func (b *Budget) AppliesTo(agentID string) bool {
	return b.AgentID == "" || b.AgentID == agentID
}

// Apply books a cost event against the budget. If the event's timestamp has
// crossed ResetAt, the spend is zeroed and ResetAt advanced to the next
// period boundary after the event before the cost is added. Returns true
// when a rollover happened.
func (b *Budget) Apply(usd float64, ts time.Time) bool {
	rolled := false
	if !ts.Before(b.ResetAt) {
		b.CurrentSpend = 0
		b.ResetAt = NextReset(b.Period, ts)
		rolled = true
	}
	b.CurrentSpend = cost.Round4(b.CurrentSpend + usd)
	return rolled
}

// Exceeded reports whether the current spend is at or over the limit.
func (b *Budget) Exceeded() bool {
	return b.CurrentSpend >= b.LimitUSD
}

// PercentUsed returns spend as a percentage of the limit (0 when unlimited).
func (b *Budget) PercentUsed() float64 {
	if b.LimitUSD <= 0 {
		return 0
	}
	return b.CurrentSpend / b.LimitUSD * 100
}

// NextReset returns the first boundary of the period strictly after ts, in
// UTC: hourly resets at the top of the next hour, daily at the next
// midnight, weekly at the next Monday midnight, monthly at the first of the
// next month.
func NextReset(p Period, ts time.Time) time.Time {
	t := ts.UTC()
	switch p {
	case PeriodHourly:
		return t.Truncate(time.Hour).Add(time.Hour)
	case PeriodWeekly:
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		days := (int(time.Monday) - int(t.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default: // daily
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}
