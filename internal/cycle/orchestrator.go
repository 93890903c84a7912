// Package cycle orchestrates the improvement loop: collect, analyze,
// execute improvement pipelines, report.
package cycle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/analyzer"
	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/registry"
)

// Stage interfaces. The concrete implementations live in their own
// packages; the orchestrator only needs these slices of them.

// SnapshotCollector produces telemetry snapshots.
type SnapshotCollector interface {
	Collect(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.TelemetrySnapshot, error)
}

// OpportunityAnalyzer detects and scores opportunities.
type OpportunityAnalyzer interface {
	Analyze(ctx context.Context, current, baseline schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity
}

// CandidateGenerator produces candidate changes.
type CandidateGenerator interface {
	Generate(ctx context.Context, op schemas.ImprovementOpportunity, arch schemas.ArchitectureContext) (schemas.CandidateChange, error)
}

// ChangeValidator gates candidates.
type ChangeValidator interface {
	Validate(change schemas.CandidateChange) error
}

// DeployController applies and reverts changes. Authorize runs before the
// baseline capture so an approval wait cannot stale the baseline.
type DeployController interface {
	Authorize(ctx context.Context, op schemas.ImprovementOpportunity, scope schemas.DeploymentScope) error
	Deploy(ctx context.Context, op schemas.ImprovementOpportunity, change schemas.CandidateChange, scope schemas.DeploymentScope) (schemas.Deployment, error)
	Rollback(ctx context.Context, dep schemas.Deployment, reason string) error
	ReleaseSnapshot(ref string)
}

// DeployMonitor watches deployments.
type DeployMonitor interface {
	CaptureBaseline(ctx context.Context, component string) (schemas.MetricBaseline, error)
	Watch(ctx context.Context, dep schemas.Deployment, baseline schemas.MetricBaseline) (schemas.MonitoringResult, error)
}

// ArchProvider supplies the architecture context for a component's prompts.
type ArchProvider func(component string) schemas.ArchitectureContext

// Deps bundles everything the orchestrator drives.
type Deps struct {
	Collector SnapshotCollector
	Analyzer  OpportunityAnalyzer
	Generator CandidateGenerator
	Validator ChangeValidator
	Deployer  DeployController
	Monitor   DeployMonitor
	Registry  *registry.Registry
	History   schemas.OutcomeSink
	Reports   schemas.ReportStore
	Alerter   schemas.Alerter
	Arch      ArchProvider
	// BreakerState reports the generation breaker state for SystemStatus.
	BreakerState func() string
}

// Orchestrator runs cycles one at a time and improvement pipelines
// concurrently within each.
type Orchestrator struct {
	cfg          config.CycleConfig
	telemetryCfg config.TelemetryConfig
	deps         Deps
	logger       *zap.Logger

	mu                  sync.RWMutex
	state               schemas.CycleState
	activeCycleID       string
	cancelActive        context.CancelFunc
	queuedComponents    []string
	emergencyDisabled   bool
	consecutiveFailures int
	lastCycleEnded      time.Time
	completed           map[string]schemas.CycleReport
}

// NewOrchestrator builds an idle orchestrator.
func NewOrchestrator(cfg config.CycleConfig, telemetryCfg config.TelemetryConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	if deps.Arch == nil {
		deps.Arch = func(string) schemas.ArchitectureContext { return schemas.ArchitectureContext{} }
	}
	return &Orchestrator{
		cfg:          cfg,
		telemetryCfg: telemetryCfg,
		deps:         deps,
		logger:       logger.Named("cycle"),
		state:        schemas.CycleIdle,
		completed:    make(map[string]schemas.CycleReport),
	}
}

// TriggerCycle starts a cycle asynchronously and returns its ID. A cycle
// already in progress or an engaged kill switch rejects the trigger.
func (o *Orchestrator) TriggerCycle(ctx context.Context, req schemas.TriggerRequest) (string, error) {
	cycleID, err := o.begin(req)
	if err != nil {
		return "", err
	}
	go func() {
		// The cycle outlives the trigger call; cancellation comes from
		// EmergencyDisable, not from the caller.
		o.run(cycleID, req)
	}()
	return cycleID, nil
}

// RunCycle runs a full cycle synchronously and returns its report.
func (o *Orchestrator) RunCycle(ctx context.Context, req schemas.TriggerRequest) (schemas.CycleReport, error) {
	cycleID, err := o.begin(req)
	if err != nil {
		return schemas.CycleReport{}, err
	}
	o.run(cycleID, req)

	report, ok := o.CycleStatus(cycleID)
	if !ok {
		return schemas.CycleReport{}, fmt.Errorf("cycle %s produced no report", cycleID)
	}
	return report, nil
}

// begin transitions idle -> collecting and claims the cycle slot.
func (o *Orchestrator) begin(req schemas.TriggerRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.emergencyDisabled {
		return "", schemas.ErrEmergencyDisabled
	}
	if o.state != schemas.CycleIdle {
		return "", fmt.Errorf("cycle %s already in state %s", o.activeCycleID, o.state)
	}

	cycleID := uuid.NewString()
	o.state = schemas.CycleCollecting
	o.activeCycleID = cycleID
	o.logger.Info("Cycle starting",
		zap.String("cycle_id", cycleID),
		zap.String("trigger", string(req.Mode)))
	return cycleID, nil
}

func (o *Orchestrator) setState(state schemas.CycleState) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// run executes the cycle state machine: collecting -> analyzing ->
// executing -> reporting -> idle. Never panics across the goroutine
// boundary.
func (o *Orchestrator) run(cycleID string, req schemas.TriggerRequest) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Cycle panicked", zap.String("cycle_id", cycleID), zap.Any("panic", r))
			o.finish(cycleID, schemas.CycleReport{CycleID: cycleID, Trigger: req.Mode}, false)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.mu.Lock()
	o.cancelActive = cancel
	o.mu.Unlock()

	start := time.Now().UTC()
	report := schemas.CycleReport{
		CycleID:   cycleID,
		Trigger:   req.Mode,
		StartTime: start,
	}
	log := o.logger.With(zap.String("cycle_id", cycleID))

	// -- collecting --
	windowHours := req.AnalysisWindowHours
	if windowHours <= 0 {
		windowHours = int(o.telemetryCfg.AnalysisWindow.Hours())
	}
	window := schemas.TimeRange{Start: start.Add(-time.Duration(windowHours) * time.Hour), End: start}
	dims := schemas.Dimensions{Tenant: req.Tenant}

	current, err := o.deps.Collector.Collect(ctx, window, dims)
	if err != nil {
		log.Error("Telemetry collection failed, cycle abandoned", zap.Error(err))
		report.EndTime = time.Now().UTC()
		o.finish(cycleID, report, false)
		return
	}
	baselineWindow := schemas.TimeRange{Start: window.Start.Add(-7 * 24 * time.Hour), End: window.Start}
	baseline, err := o.deps.Collector.Collect(ctx, baselineWindow, dims)
	if err != nil {
		// A missing baseline degrades trend detection but the other
		// detectors still run on the current snapshot.
		log.Warn("Baseline collection failed, continuing without trends", zap.Error(err))
		baseline = schemas.TelemetrySnapshot{Window: baselineWindow}
	}

	// -- analyzing --
	o.setState(schemas.CycleAnalyzing)
	opps := o.deps.Analyzer.Analyze(ctx, current, baseline)
	report.OpportunitiesIdentified = len(opps)

	maxImprovements := req.MaxImprovements
	if maxImprovements <= 0 {
		maxImprovements = o.cfg.MaxConcurrentImprovements
	}
	selection := analyzer.Prioritize(opps, analyzer.ActiveSet{
		Keys:  o.activeAnalyzerKeys(),
		Count: o.deps.Registry.Count(),
	}, maxImprovements)

	queued := make([]string, 0, len(selection.Queued))
	for _, op := range selection.Queued {
		queued = append(queued, op.Component)
	}
	o.mu.Lock()
	o.queuedComponents = queued
	o.mu.Unlock()

	// -- executing --
	o.setState(schemas.CycleExecuting)
	var g errgroup.Group
	outcomeCh := make(chan schemas.ImprovementOutcome, len(selection.Selected))

	for _, op := range selection.Selected {
		op := op
		if !o.deps.Registry.Acquire(op) {
			log.Warn("Selected opportunity lost its slot",
				zap.String("opportunity_id", op.ID),
				zap.String("component", op.Component))
			continue
		}
		report.ImprovementsAttempted++
		g.Go(func() error {
			defer o.deps.Registry.Release(op)
			outcomeCh <- o.runImprovement(ctx, op)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomeCh)

	// -- reporting --
	o.setState(schemas.CycleReporting)
	for outcome := range outcomeCh {
		report.Improvements = append(report.Improvements, outcome)
		switch outcome.State {
		case schemas.StateFinalized:
			report.ImprovementsDeployed++
			report.TotalImpactScore += outcome.ImpactScore
		case schemas.StateRolledBack:
			report.ImprovementsRolledBack++
		case schemas.StateDeclined:
			report.ImprovementsDeclined++
		default:
			report.ImprovementsFailed++
		}
		if o.deps.History != nil {
			if err := o.deps.History.RecordOutcome(ctx, outcome); err != nil {
				log.Warn("Recording outcome failed", zap.Error(err))
			}
		}
	}
	report.EndTime = time.Now().UTC()

	if o.deps.Reports != nil {
		if err := o.deps.Reports.SaveReport(context.Background(), report); err != nil {
			log.Error("Saving cycle report failed", zap.Error(err))
		}
	}

	log.Info("Cycle complete",
		zap.Int("identified", report.OpportunitiesIdentified),
		zap.Int("attempted", report.ImprovementsAttempted),
		zap.Int("deployed", report.ImprovementsDeployed),
		zap.Int("rolled_back", report.ImprovementsRolledBack),
		zap.Float64("total_impact", report.TotalImpactScore))
	o.finish(cycleID, report, true)
}

// finish records the report and returns the orchestrator to idle. Failed
// cycles count toward the alarm threshold; completed ones clear it.
func (o *Orchestrator) finish(cycleID string, report schemas.CycleReport, completed bool) {
	o.mu.Lock()
	o.completed[cycleID] = report
	o.state = schemas.CycleIdle
	o.activeCycleID = ""
	o.cancelActive = nil
	o.lastCycleEnded = time.Now().UTC()
	if completed {
		o.consecutiveFailures = 0
	} else {
		o.consecutiveFailures++
	}
	failures := o.consecutiveFailures
	o.mu.Unlock()

	if !completed && failures >= o.cfg.FailureAlarmThreshold && o.deps.Alerter != nil {
		o.deps.Alerter.Alert(context.Background(),
			"improvement cycles repeatedly failing; scheduling halted",
			map[string]string{"consecutive_failures": strconv.Itoa(failures)})
	}
}

func (o *Orchestrator) activeAnalyzerKeys() map[analyzer.ActiveKey]bool {
	keys := o.deps.Registry.ActiveKeys()
	out := make(map[analyzer.ActiveKey]bool, len(keys))
	for k := range keys {
		out[analyzer.ActiveKey{Type: k.Type, Component: k.Component}] = true
	}
	return out
}

// CycleStatus returns the report of a finished cycle.
func (o *Orchestrator) CycleStatus(cycleID string) (schemas.CycleReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	report, ok := o.completed[cycleID]
	return report, ok
}

// SystemStatus snapshots the operator-visible state.
func (o *Orchestrator) SystemStatus() schemas.SystemStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := schemas.SystemStatus{
		State:               o.state,
		ActiveCycleID:       o.activeCycleID,
		ActiveImprovements:  o.deps.Registry.Count(),
		QueuedComponents:    append([]string(nil), o.queuedComponents...),
		EmergencyDisabled:   o.emergencyDisabled,
		ConsecutiveFailures: o.consecutiveFailures,
		LastCycleEnded:      o.lastCycleEnded,
	}
	if o.deps.BreakerState != nil {
		status.BreakerState = o.deps.BreakerState()
	}
	return status
}

// EmergencyDisable engages the kill switch: no new cycles start, and the
// active cycle's context is cancelled, which resolves every in-flight
// monitoring window to rollback.
func (o *Orchestrator) EmergencyDisable(ctx context.Context) {
	o.mu.Lock()
	o.emergencyDisabled = true
	cancel := o.cancelActive
	o.mu.Unlock()

	o.logger.Warn("Emergency disable engaged")
	if cancel != nil {
		cancel()
	}
}

// Enable clears the kill switch and the failure counter.
func (o *Orchestrator) Enable() {
	o.mu.Lock()
	o.emergencyDisabled = false
	o.consecutiveFailures = 0
	o.mu.Unlock()
	o.logger.Info("Improvement cycles re-enabled")
}

// Halted reports whether scheduling should pause: kill switch engaged or
// too many consecutive cycle failures.
func (o *Orchestrator) Halted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.emergencyDisabled || o.consecutiveFailures >= o.cfg.FailureAlarmThreshold
}
