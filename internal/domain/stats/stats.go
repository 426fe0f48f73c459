// Package stats defines the rolling stats cache keys and additive counters.
package stats

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentPulse/internal/domain/cost"
)

// Delta holds additive counters for one stats cache key. Cache rows are
// maintained by monotonic delta application, never recomputed from scratch.
type Delta struct {
	CostUSD      float64 `json:"cost"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Requests     int64   `json:"requests"`
}

// Row is a materialized stats cache row.
type Row struct {
	Key       string    `json:"key"`
	Delta     Delta     `json:"counters"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keys derives the full set of aggregation keys implied by a cost entry:
// daily total, hourly total, per-model-per-day, per-agent-daily and
// per-agent-hourly. Buckets are UTC.
func Keys(e *cost.Entry) []string {
	ts := e.Timestamp.UTC()
	date := ts.Format("2006-01-02")
	hour := ts.Format("2006-01-02T15")

	return []string{
		"today:" + date,
		"hour:" + hour,
		fmt.Sprintf("model:%s:%s", date, e.Model),
		fmt.Sprintf("agent:%s:day:%s", e.AgentID, date),
		fmt.Sprintf("agent:%s:hour:%s", e.AgentID, hour),
	}
}

// Accumulator batches per-key deltas in memory so a scan pass flushes one
// additive patch per key instead of one write per entry.
type Accumulator map[string]Delta

// Apply accumulates the entry's counters under each of its derived keys.
// Cost is rounded at this aggregation boundary.
func (a Accumulator) Apply(e *cost.Entry) {
	for _, key := range Keys(e) {
		d := a[key]
		d.CostUSD = cost.Round4(d.CostUSD + e.CostUSD)
		d.InputTokens += e.InputTokens
		d.OutputTokens += e.OutputTokens
		d.Requests++
		a[key] = d
	}
}
