// Package alert defines alert rules, fired alerts, and cooldown gating.
package alert

import "time"

// RuleType selects the condition a rule evaluates.
type RuleType string

const (
	RuleBudgetExceeded RuleType = "budget_exceeded"
	RuleAgentOffline   RuleType = "agent_offline"
	RuleErrorSpike     RuleType = "error_spike"
	RuleCostSpike      RuleType = "cost_spike"
)

// Severity grades a rule and the alerts it fires.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RuleConfig holds the type-specific evaluation parameters. Unused fields
// are zero for rule types that do not read them.
type RuleConfig struct {
	Threshold        float64 `json:"threshold,omitempty"`         // absolute count/sum for spikes and budgets
	WindowMinutes    int     `json:"window_minutes,omitempty"`    // trailing window / offline grace
	Comparison       string  `json:"comparison,omitempty"`        // "gt" (default) or "gte"
	Metric           string  `json:"metric,omitempty"`            // spike metric selector
	PercentThreshold float64 `json:"percent_threshold,omitempty"` // budget percentage trigger
	HardStop         bool    `json:"hard_stop,omitempty"`
	AgentID          string  `json:"agent_id,omitempty"` // empty = all agents
}

// Rule is a configured alert condition with per-rule cooldown.
type Rule struct {
	ID              string     `json:"id"`
	Type            RuleType   `json:"type"`
	Config          RuleConfig `json:"config"`
	Severity        Severity   `json:"severity"`
	Channels        []string   `json:"channels,omitempty"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Eligible reports whether the rule may fire at now: either it has never
// triggered, or the cooldown has fully elapsed since the last firing.
func (r *Rule) Eligible(now time.Time) bool {
	if r.LastTriggered == nil {
		return true
	}
	return now.Sub(*r.LastTriggered) >= time.Duration(r.CooldownMinutes)*time.Minute
}

// Alert is one fired instance of a rule. It is immutable after creation;
// acknowledgement and resolution are user-driven mutations that never feed
// back into cooldown timing.
type Alert struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"rule_id"`
	Type           RuleType   `json:"type"`
	Severity       Severity   `json:"severity"`
	AgentID        string     `json:"agent_id,omitempty"`
	Message        string     `json:"message"`
	FiredAt        time.Time  `json:"fired_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
