// Package agent defines the monitored Agent entity.
package agent

import "time"

// Status represents the observed health of an agent.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusDegraded Status = "degraded"
)

// Config holds the agent's observed runtime configuration.
type Config struct {
	Model   string `json:"model,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Agent is a monitored fleet member. Agents are created on first-seen
// session and never deleted by the pipeline; status and heartbeat fields
// are refreshed on every successful ingest.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"` // unique
	GatewayURL    string    `json:"gateway_url,omitempty"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastSeen      time.Time `json:"last_seen"`
	Config        Config    `json:"config"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
