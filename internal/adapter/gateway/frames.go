// Package gateway implements the persistent connection to the agent gateway:
// the duplex push channel with its challenge/connect handshake and reconnect
// backoff, and the request/response RPC client.
package gateway

import "encoding/json"

// Frame is the envelope for all frames on the push channel.
type Frame struct {
	Type    string          `json:"type"` // "event" | "res" | "req"
	Event   string          `json:"event,omitempty"`
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame type discriminators.
const (
	frameEvent = "event"
	frameRes   = "res"
	frameReq   = "req"
)

// connectRequestID is the fixed request id for the single outbound connect
// request sent per connection; the auth response is keyed to it.
const connectRequestID = "connect-1"

// Push event kinds dispatched by the manager.
const (
	EventChallenge = "challenge"
	EventAgent     = "agent"
	EventHealth    = "health"
	EventHeartbeat = "heartbeat"
	EventPresence  = "presence"
	EventChat      = "chat"
)

// connectRequest is the payload of the outbound connect request.
type connectRequest struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      clientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Auth        authInfo   `json:"auth"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type authInfo struct {
	Token string `json:"token"`
}

// clientVersion is reported in the connect request.
const clientVersion = "1.0.0"
