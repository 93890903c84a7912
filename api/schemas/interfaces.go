package schemas

import (
	"context"
)

// -- External collaborator interfaces --
//
// The improvement cycle owns none of these systems; it only consumes them.
// Each has a fake in internal/mocks for tests.

// TelemetryBackend is the storage/query system the collector pulls from.
type TelemetryBackend interface {
	// Query returns raw metrics, logs, and events for the given window and
	// dimensions.
	Query(ctx context.Context, window TimeRange, dims Dimensions) (RawTelemetry, error)
	// Events returns a stream of near-real-time events (alarm transitions,
	// job completions). The channel is closed when ctx is cancelled.
	Events(ctx context.Context) (<-chan Event, error)
}

// MetricsProvider supplies point-in-time health metrics for one component.
// The monitor uses it for baselines and live samples.
type MetricsProvider interface {
	CurrentMetrics(ctx context.Context, component string) (MetricSample, error)
}

// LLMClient abstracts the generative text service used to produce candidate
// code.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// ReloadController is the hot-reload mechanism that swaps running component
// code. Reload is synchronous relative to the caller.
type ReloadController interface {
	Reload(ctx context.Context, componentID string) error
}

// AuditSink accepts deployment and rollback records. Assumed durable and
// ordered per component.
type AuditSink interface {
	Append(ctx context.Context, record AuditRecord) error
}

// ApprovalGate mediates system-wide deployments. RequestApproval blocks
// until a decision is made or ctx expires.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, deploymentID string) (ApprovalDecision, error)
}

// Alerter receives operator-facing alerts (degradation rollbacks, repeated
// cycle failures).
type Alerter interface {
	Alert(ctx context.Context, message string, fields map[string]string)
}

// OutcomeSink records improvement outcomes and answers with a scoring
// adjustment the analyzer applies to future opportunities of the same
// (type, component).
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, outcome ImprovementOutcome) error
	Adjustment(opType OpportunityType, component string) float64
}

// ReportStore persists cycle reports and deployments.
type ReportStore interface {
	SaveReport(ctx context.Context, report CycleReport) error
	SaveDeployment(ctx context.Context, dep Deployment) error
	UpdateDeploymentStatus(ctx context.Context, id string, status DeploymentStatus) error
	GetReport(ctx context.Context, cycleID string) (CycleReport, error)
}
