// Package health defines the per-agent health sample recorded by the poller.
package health

import (
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/agent"
)

// Check is one coarse health observation for an agent: how many of its
// sessions are active under the 5-minute staleness rule, and the round-trip
// latency of the poll that produced the sample.
type Check struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	Status         agent.Status `json:"status"`
	ActiveSessions int          `json:"active_sessions"`
	TotalSessions  int          `json:"total_sessions"`
	LatencyMS      int64        `json:"latency_ms"`
	CheckedAt      time.Time    `json:"checked_at"`
}

// StatusFor derives a health status from session counts: no sessions at all
// is offline, some-but-stale is degraded, anything active is online.
func StatusFor(active, total int) agent.Status {
	switch {
	case active > 0:
		return agent.StatusOnline
	case total > 0:
		return agent.StatusDegraded
	default:
		return agent.StatusOffline
	}
}
