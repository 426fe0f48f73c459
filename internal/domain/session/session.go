// Package session defines the Session entity and session key conventions.
package session

import (
	"fmt"
	"strings"
	"time"
)

// ActivityWindow is the staleness threshold beyond which a session is
// considered inactive. The poller's health sampling uses the same rule.
const ActivityWindow = 5 * time.Minute

// Session is one conversation/run of an agent, keyed by (AgentID, Key).
// The pipeline refreshes TotalTokens and LastActivity; it never recomputes
// cost totals from cost records.
type Session struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	Key          string    `json:"session_key"`
	Kind         string    `json:"kind"`
	DisplayName  string    `json:"display_name,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	TotalTokens  int64     `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive reports whether the session has seen activity within the window.
func (s *Session) IsActive(now time.Time) bool {
	return now.Sub(s.LastActivity) < ActivityWindow
}

// ParseKey splits a session key of the structural form "kind:agentName:..."
// into its kind and agent name. Keys with fewer than two segments are
// rejected; trailing segments are session-local and ignored here.
func ParseKey(key string) (kind, agentName string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("session key %q: want kind:agentName:...", key)
	}
	return parts[0], parts[1], nil
}
