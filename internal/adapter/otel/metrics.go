package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the pipeline's instruments. A nil *Metrics is valid and
// records nothing, so callers never guard on export being enabled.
type Metrics struct {
	entriesIngested metric.Int64Counter
	duplicates      metric.Int64Counter
	reconnects      metric.Int64Counter
	pollFailures    metric.Int64Counter
	alertsFired     metric.Int64Counter
}

// NewMetrics registers the pipeline instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("agentpulse")

	m := &Metrics{}
	var err error

	if m.entriesIngested, err = meter.Int64Counter("agentpulse.entries.ingested",
		metric.WithDescription("Cost entries written to storage")); err != nil {
		return nil, fmt.Errorf("entries counter: %w", err)
	}
	if m.duplicates, err = meter.Int64Counter("agentpulse.entries.duplicates",
		metric.WithDescription("Entries dropped by the dedup guard")); err != nil {
		return nil, fmt.Errorf("duplicates counter: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter("agentpulse.gateway.reconnects",
		metric.WithDescription("Gateway reconnect attempts")); err != nil {
		return nil, fmt.Errorf("reconnects counter: %w", err)
	}
	if m.pollFailures, err = meter.Int64Counter("agentpulse.poller.failures",
		metric.WithDescription("Failed session poll cycles")); err != nil {
		return nil, fmt.Errorf("poll failures counter: %w", err)
	}
	if m.alertsFired, err = meter.Int64Counter("agentpulse.alerts.fired",
		metric.WithDescription("Alerts raised by the evaluator")); err != nil {
		return nil, fmt.Errorf("alerts counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) EntriesIngested(ctx context.Context, n int64, agentID string) {
	if m == nil {
		return
	}
	m.entriesIngested.Add(ctx, n, metric.WithAttributes(attribute.String("agent_id", agentID)))
}

func (m *Metrics) DuplicatesDropped(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, n)
}

func (m *Metrics) Reconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

func (m *Metrics) PollFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollFailures.Add(ctx, 1)
}

func (m *Metrics) AlertFired(ctx context.Context, ruleType string) {
	if m == nil {
		return
	}
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_type", ruleType)))
}
