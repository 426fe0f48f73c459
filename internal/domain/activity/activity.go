// Package activity defines the append-only activity feed entry.
package activity

import "time"

// Type classifies an activity entry.
type Type string

const (
	TypeMessageSent     Type = "message_sent"
	TypeMessageReceived Type = "message_received"
	TypeToolCall        Type = "tool_call"
	TypeSessionStarted  Type = "session_started"
	TypeSessionEnded    Type = "session_ended"
	TypeError           Type = "error"
	TypeHeartbeat       Type = "heartbeat"
	TypeAlertFired      Type = "alert_fired"
)

// SummaryLimit is the maximum summary length in runes.
const SummaryLimit = 80

// Entry is one activity feed record. Activities are delivered at least once:
// the live push path and the transcript backfill path may both record the
// same underlying event, and no dedup is attempted.
type Entry struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Type       Type      `json:"type"`
	Summary    string    `json:"summary"`
	SessionKey string    `json:"session_key,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Truncate shortens s to SummaryLimit runes, appending an ellipsis when
// anything was cut.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= SummaryLimit {
		return s
	}
	return string(runes[:SummaryLimit]) + "…"
}
