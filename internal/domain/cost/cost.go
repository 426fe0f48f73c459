// Package cost defines the immutable cost entry and its dedup identity.
package cost

import (
	"fmt"
	"math"
	"time"
)

// Entry is a single billable usage event. Entries are append-only; the raw
// CostUSD is stored unrounded and rounded only at aggregation boundaries.
type Entry struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	SessionKey       string    `json:"session_key,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64     `json:"cache_write_tokens,omitempty"`
	CostUSD          float64   `json:"cost_usd"`
	Timestamp        time.Time `json:"timestamp"`

	// Source identity. SourceFile is the transcript path for tailed entries
	// or a pseudo-identifier for live push events. SourceOffset is the line's
	// starting byte offset within the file, or -1 for push events that have
	// no stable position.
	SourceFile   string `json:"source_file"`
	SourceOffset int64  `json:"source_offset"`
}

// TotalTokens returns the input+output token count (cache reads/writes are
// billed separately and excluded from session token totals).
func (e *Entry) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens
}

// DedupKey derives the entry's ingestion identity. The byte offset is part
// of the key so that two legitimate entries with identical timestamp and
// cost in the same file remain distinct; push events (offset -1) fall back
// to the (file, timestamp, cost) tuple.
func (e *Entry) DedupKey() string {
	return fmt.Sprintf("%s|%d|%d|%.6f", e.SourceFile, e.SourceOffset, e.Timestamp.UnixMilli(), e.CostUSD)
}

// Round4 rounds a dollar amount to 4 decimal places. Applied at read and
// aggregation boundaries to keep displayed totals free of float drift.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
