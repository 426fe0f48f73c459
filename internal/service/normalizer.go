package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentPulse/internal/adapter/gateway"
	"github.com/Strob0t/AgentPulse/internal/domain/activity"
	"github.com/Strob0t/AgentPulse/internal/domain/cost"
)

// Normalized is the canonical output of normalization for one raw input:
// at most one cost entry plus zero or more activities. AgentName identifies
// the agent when the source carries a name instead of an id; the caller
// resolves it and fills AgentID on the records before ingestion.
type Normalized struct {
	AgentName  string
	Cost       *cost.Entry
	Activities []activity.Entry
}

// pushEvent is the payload shape shared by the gateway's push event kinds.
// Kinds use overlapping subsets of these fields.
type pushEvent struct {
	Agent      string      `json:"agent"`
	SessionKey string      `json:"sessionKey,omitempty"`
	Channel    string      `json:"channel,omitempty"`
	Direction  string      `json:"direction,omitempty"` // chat: "in" | "out"
	Text       string      `json:"text,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	Model      string      `json:"model,omitempty"`
	Timestamp  int64       `json:"ts,omitempty"` // unix milliseconds
	Usage      *usageBlock `json:"usage,omitempty"`
	CostUSD    float64     `json:"costUsd,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// usageBlock carries token counts in provider wire naming, used by both
// push events and transcript message records.
type usageBlock struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
}

// transcriptLine is one JSONL transcript record. Only type "message" with a
// usage block is cost-relevant; assistant messages additionally yield
// activities from their content blocks.
type transcriptLine struct {
	Type      string             `json:"type"`
	Timestamp string             `json:"timestamp,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
	CostUSD   float64            `json:"costUsd,omitempty"`
	Message   *transcriptMessage `json:"message,omitempty"`
}

type transcriptMessage struct {
	Role     string         `json:"role"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Usage    *usageBlock    `json:"usage,omitempty"`
	Content  []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"` // "text" | "tool_use"
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"` // tool name for tool_use
}

// pushSourcePrefix marks cost entries from live push events, which have no
// transcript file position.
const pushSourcePrefix = "push:"

// NormalizePush maps one gateway push event to canonical records. Every
// kind yields an activity; an agent event that carries usage also yields a
// cost entry. Unknown kinds return an error and are skipped by the caller.
func NormalizePush(kind string, payload json.RawMessage, now time.Time) (*Normalized, error) {
	var ev pushEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	if ev.Agent == "" {
		return nil, fmt.Errorf("%s event without agent", kind)
	}

	ts := now
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp).UTC()
	}

	n := &Normalized{AgentName: ev.Agent}
	act := activity.Entry{
		ID:         uuid.New().String(),
		SessionKey: ev.SessionKey,
		Channel:    ev.Channel,
		Timestamp:  ts,
	}

	switch kind {
	case gateway.EventAgent:
		act.Type = activity.TypeToolCall
		act.Summary = activity.Truncate(ev.Text)
		if ev.Usage != nil {
			n.Cost = &cost.Entry{
				ID:               uuid.New().String(),
				SessionKey:       ev.SessionKey,
				Provider:         ev.Provider,
				Model:            ev.Model,
				InputTokens:      ev.Usage.InputTokens,
				OutputTokens:     ev.Usage.OutputTokens,
				CacheReadTokens:  ev.Usage.CacheReadInputTokens,
				CacheWriteTokens: ev.Usage.CacheCreationInputTokens,
				CostUSD:          ev.CostUSD,
				Timestamp:        ts,
				SourceFile:       pushSourcePrefix + ev.Agent,
				SourceOffset:     -1,
			}
		}
	case gateway.EventHealth:
		if ev.Error != "" {
			act.Type = activity.TypeError
			act.Summary = activity.Truncate(ev.Error)
		} else {
			act.Type = activity.TypeHeartbeat
			act.Summary = "health report"
		}
	case gateway.EventHeartbeat:
		act.Type = activity.TypeHeartbeat
		act.Summary = "heartbeat"
	case gateway.EventPresence:
		if ev.Text == "offline" {
			act.Type = activity.TypeSessionEnded
		} else {
			act.Type = activity.TypeSessionStarted
		}
		act.Summary = activity.Truncate(ev.Text)
	case gateway.EventChat:
		if ev.Direction == "in" {
			act.Type = activity.TypeMessageReceived
		} else {
			act.Type = activity.TypeMessageSent
		}
		act.Summary = activity.Truncate(ev.Text)
	default:
		return nil, fmt.Errorf("unknown push event kind %q", kind)
	}

	n.Activities = append(n.Activities, act)
	return n, nil
}

// NormalizeLine maps one transcript line to canonical records. Lines other
// than messages with usage produce nothing; malformed JSON is an error the
// caller skips per line. The caller knows the owning agent from the
// transcript path and fills AgentID afterwards.
func NormalizeLine(ln Line) (*Normalized, error) {
	var rec transcriptLine
	if err := json.Unmarshal([]byte(ln.Text), &rec); err != nil {
		return nil, fmt.Errorf("decode transcript line at %s:%d: %w", ln.File, ln.Offset, err)
	}
	if rec.Type != "message" || rec.Message == nil || rec.Message.Usage == nil {
		return nil, nil
	}

	ts, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("transcript timestamp at %s:%d: %w", ln.File, ln.Offset, err)
	}
	ts = ts.UTC()

	msg := rec.Message
	n := &Normalized{
		Cost: &cost.Entry{
			ID:               uuid.New().String(),
			SessionKey:       rec.SessionID,
			Provider:         msg.Provider,
			Model:            msg.Model,
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CostUSD:          rec.CostUSD,
			Timestamp:        ts,
			SourceFile:       ln.File,
			SourceOffset:     ln.Offset,
		},
	}

	if msg.Role == "assistant" {
		for _, block := range msg.Content {
			act := activity.Entry{
				ID:         uuid.New().String(),
				SessionKey: rec.SessionID,
				Timestamp:  ts,
			}
			switch block.Type {
			case "tool_use":
				act.Type = activity.TypeToolCall
				act.Summary = activity.Truncate(block.Name)
			case "text":
				act.Type = activity.TypeMessageSent
				act.Summary = activity.Truncate(block.Text)
			default:
				continue
			}
			n.Activities = append(n.Activities, act)
		}
	}
	return n, nil
}
