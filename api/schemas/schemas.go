// Package schemas defines the data model shared across the improvement
// cycle and the interfaces of the external collaborators it is glued to.
package schemas

import (
	"time"
)

// -- Telemetry --

// TimeRange bounds a telemetry query or snapshot.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Dimensions narrows a telemetry query.
type Dimensions struct {
	Tenant    string `json:"tenant,omitempty"`
	Component string `json:"component,omitempty"`
}

// MetricPoint is a single reading in a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"value"`
}

// MetricSeries is a named numeric series with its dimensions.
type MetricSeries struct {
	Name      string        `json:"name"`
	Tenant    string        `json:"tenant,omitempty"`
	Component string        `json:"component"`
	Points    []MetricPoint `json:"points"`
}

// LogRecord is a structured log entry from the telemetry backend.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ErrorType string    `json:"error_type"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// Event is a discrete state transition (alarm flips, deploy completions).
type Event struct {
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventTypeCriticalAlarm marks events that may trigger an emergency cycle.
const EventTypeCriticalAlarm = "CRITICAL_ALARM"

// Well-known metric series names emitted by the telemetry backend.
const (
	MetricLatencyMs       = "latency_ms"
	MetricErrorRate       = "error_rate"
	MetricThroughput      = "throughput"
	MetricRequestsPerHour = "requests_per_hour"
	MetricCacheHitRatio   = "cache_hit_ratio"
	MetricResourceUtil    = "resource_utilization"
)

// RawTelemetry is the unnormalized result of a backend query.
type RawTelemetry struct {
	Metrics []MetricSeries `json:"metrics"`
	Logs    []LogRecord    `json:"logs"`
	Events  []Event        `json:"events"`
}

// TelemetrySnapshot is a time-bounded, deduplicated aggregate of the three
// telemetry streams. Immutable once produced by the collector.
type TelemetrySnapshot struct {
	ID          string         `json:"id"`
	Window      TimeRange      `json:"window"`
	Metrics     []MetricSeries `json:"metrics"`
	Logs        []LogRecord    `json:"logs"`
	Events      []Event        `json:"events"`
	Stale       bool           `json:"stale"`
	CollectedAt time.Time      `json:"collected_at"`
}

// -- Opportunities --

// OpportunityType classifies what kind of improvement a detection suggests.
type OpportunityType string

const (
	OpportunityPerformance  OpportunityType = "performance"
	OpportunityErrorPattern OpportunityType = "error_pattern"
	OpportunityCaching      OpportunityType = "caching"
	OpportunityOther        OpportunityType = "other"
)

// Severity ranks how urgent an opportunity is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// RiskLevel estimates how likely a change is to break production.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ImprovementOpportunity is a scored detection produced by the analyzer.
// Immutable after prioritization; ImpactScore is derived, never user-set.
type ImprovementOpportunity struct {
	ID                        string          `json:"id"`
	Type                      OpportunityType `json:"type"`
	Component                 string          `json:"component"`
	Tenant                    string          `json:"tenant,omitempty"`
	Description               string          `json:"description"`
	Severity                  Severity        `json:"severity"`
	ConfidenceScore           float64         `json:"confidence_score"`
	RiskLevel                 RiskLevel       `json:"risk_level"`
	PerformanceGainPercentage float64         `json:"performance_gain_percentage"`
	AffectedUsersPerHour      float64         `json:"affected_users_per_hour"`
	FrequencyPerDay           float64         `json:"frequency_per_day"`
	Evidence                  []string        `json:"telemetry_evidence"`
	ImpactScore               float64         `json:"impact_score"`
}

// -- Generation --

// CandidateChange is the transient output of the code generator. Discarded
// when validation fails, otherwise handed to the deployment controller.
type CandidateChange struct {
	OpportunityID      string            `json:"opportunity_id"`
	Files              map[string]string `json:"files"`
	GeneratedAt        time.Time         `json:"generated_at"`
	GenerationAttempts int               `json:"generation_attempts"`
}

// ArchitectureContext is the static context handed to prompt construction.
type ArchitectureContext struct {
	Summary       string `json:"summary"`
	CodeSample    string `json:"code_sample"`
	TargetGainPct int    `json:"target_gain_pct"`
	MinCoverage   int    `json:"min_coverage"`
}

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest encapsulates a complete request to the generation service.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// -- Deployment --

// DeploymentScope restricts the blast radius of a change.
type DeploymentScope string

const (
	ScopeTenant     DeploymentScope = "tenant"
	ScopeSystemWide DeploymentScope = "system_wide"
)

// DeploymentStatus is the lifecycle state of a deployed change.
type DeploymentStatus string

const (
	StatusDeployed   DeploymentStatus = "deployed"
	StatusRolledBack DeploymentStatus = "rolled_back"
	StatusFailed     DeploymentStatus = "failed"
)

// Deployment records a change written to a live component. Only the monitor
// mutates Status; PreviousVersionRef must remain restorable for the entire
// monitoring window.
type Deployment struct {
	ID                 string           `json:"id"`
	OpportunityID      string           `json:"opportunity_id"`
	Component          string           `json:"component"`
	PreviousVersionRef string           `json:"previous_version_ref"`
	NewVersionHash     string           `json:"new_version_hash"`
	Scope              DeploymentScope  `json:"scope"`
	DeployedAt         time.Time        `json:"deployed_at"`
	Status             DeploymentStatus `json:"status"`
}

// ApprovalDecision is the outcome of a system-wide deployment approval.
type ApprovalDecision string

const (
	ApprovalGranted ApprovalDecision = "granted"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalTimeout ApprovalDecision = "timeout"
)

// Audit record kinds.
const (
	AuditKindDeploy   = "deploy"
	AuditKindRollback = "rollback"
	AuditKindDeclined = "declined"
)

// AuditRecord links a deployment or rollback to its lineage. Records are
// ordered per component by Sequence.
type AuditRecord struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	OpportunityID string    `json:"opportunity_id"`
	DeploymentID  string    `json:"deployment_id"`
	Component     string    `json:"component"`
	PreviousRef   string    `json:"previous_ref"`
	NewHash       string    `json:"new_hash"`
	Scope         string    `json:"scope"`
	Detail        string    `json:"detail,omitempty"`
	Sequence      int64     `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
}

// -- Monitoring --

// MetricBaseline captures the pre-deployment health of a component.
type MetricBaseline struct {
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
	ErrorRate    float64 `json:"error_rate"`
	Throughput   float64 `json:"throughput"`
}

// MetricSample is one live reading taken during the monitoring window.
type MetricSample struct {
	MetricBaseline
	TakenAt time.Time `json:"taken_at"`
}

// MonitoringDecision terminates a monitoring window.
type MonitoringDecision string

const (
	DecisionKeep     MonitoringDecision = "keep"
	DecisionRollback MonitoringDecision = "rollback"
)

// MonitoringResult accumulates the samples and degradation series for one
// deployment. Append-only while the window is open.
type MonitoringResult struct {
	DeploymentID          string             `json:"deployment_id"`
	Baseline              MetricBaseline     `json:"baseline_metrics"`
	Samples               []MetricSample     `json:"samples"`
	DegradationSeries     []float64          `json:"degradation_series"`
	FinalDecision         MonitoringDecision `json:"final_decision,omitempty"`
	DegradationAtDecision float64            `json:"degradation_at_decision"`
}

// -- Cycle --

// ImprovementState is the per-improvement state machine. The four terminal
// states never transition further.
type ImprovementState string

const (
	StateIdentified ImprovementState = "identified"
	StateGenerating ImprovementState = "generating"
	StateValidating ImprovementState = "validating"
	StateDeploying  ImprovementState = "deploying"
	StateMonitoring ImprovementState = "monitoring"
	StateFinalized  ImprovementState = "finalized"
	StateRolledBack ImprovementState = "rolled_back"
	StateFailed     ImprovementState = "failed"
	StateDeclined   ImprovementState = "declined"
)

// Terminal reports whether the state admits no further transition.
func (s ImprovementState) Terminal() bool {
	switch s {
	case StateFinalized, StateRolledBack, StateFailed, StateDeclined:
		return true
	}
	return false
}

// TriggerMode identifies what started a cycle.
type TriggerMode string

const (
	TriggerScheduled TriggerMode = "scheduled"
	TriggerManual    TriggerMode = "manual"
	TriggerEmergency TriggerMode = "emergency"
)

// TriggerRequest parameterizes a manually or emergency triggered cycle.
type TriggerRequest struct {
	Mode                TriggerMode `json:"mode"`
	AnalysisWindowHours int         `json:"analysis_window_hours"`
	MaxImprovements     int         `json:"max_improvements"`
	Tenant              string      `json:"tenant,omitempty"`
}

// ImprovementOutcome summarizes one improvement's journey for the report
// and for the analyzer's feedback loop.
type ImprovementOutcome struct {
	OpportunityID string           `json:"opportunity_id"`
	Type          OpportunityType  `json:"type"`
	Component     string           `json:"component"`
	State         ImprovementState `json:"state"`
	ImpactScore   float64          `json:"impact_score"`
	Degradation   float64          `json:"degradation,omitempty"`
	FailedChecks  []string         `json:"failed_checks,omitempty"`
	Detail        string           `json:"detail,omitempty"`
}

// CycleReport is published exactly once per cycle and never mutated after.
type CycleReport struct {
	CycleID                 string               `json:"cycle_id"`
	Trigger                 TriggerMode          `json:"trigger"`
	StartTime               time.Time            `json:"start_time"`
	EndTime                 time.Time            `json:"end_time"`
	OpportunitiesIdentified int                  `json:"opportunities_identified"`
	ImprovementsAttempted   int                  `json:"improvements_attempted"`
	ImprovementsDeployed    int                  `json:"improvements_deployed"`
	ImprovementsRolledBack  int                  `json:"improvements_rolled_back"`
	ImprovementsFailed      int                  `json:"improvements_failed"`
	ImprovementsDeclined    int                  `json:"improvements_declined"`
	TotalImpactScore        float64              `json:"total_impact_score"`
	Improvements            []ImprovementOutcome `json:"improvements"`
}

// CycleState is the orchestrator's own state machine.
type CycleState string

const (
	CycleIdle       CycleState = "idle"
	CycleCollecting CycleState = "collecting"
	CycleAnalyzing  CycleState = "analyzing"
	CycleExecuting  CycleState = "executing"
	CycleReporting  CycleState = "reporting"
)

// SystemStatus is the operator-visible snapshot of the whole subsystem.
type SystemStatus struct {
	State               CycleState `json:"state"`
	ActiveCycleID       string     `json:"active_cycle_id,omitempty"`
	ActiveImprovements  int        `json:"active_improvements"`
	QueuedComponents    []string   `json:"queued_components,omitempty"`
	BreakerState        string     `json:"breaker_state"`
	EmergencyDisabled   bool       `json:"emergency_disabled"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCycleEnded      time.Time  `json:"last_cycle_ended,omitzero"`
}
