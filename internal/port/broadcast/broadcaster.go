// Package broadcast defines the outbound event publisher port.
package broadcast

import "context"

// Publisher fans ingestion events (fired alerts, notable activities) out to
// downstream consumers such as the dashboard backend. Publishing is
// best-effort; failures are logged, never fatal to ingestion.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subjects published by the pipeline.
const (
	SubjectAlertPrefix  = "telemetry.alerts." // + severity
	SubjectBudgetStop   = "telemetry.budget.hardstop"
	SubjectActivityFeed = "telemetry.activity"
)
