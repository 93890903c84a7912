package cycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// runImprovement drives one opportunity through
// generating -> validating -> deploying -> monitoring and returns its
// terminal outcome. Failures are isolated to this pipeline; nothing
// escapes as a panic or error.
func (o *Orchestrator) runImprovement(ctx context.Context, op schemas.ImprovementOpportunity) (outcome schemas.ImprovementOutcome) {
	outcome = schemas.ImprovementOutcome{
		OpportunityID: op.ID,
		Type:          op.Type,
		Component:     op.Component,
		ImpactScore:   op.ImpactScore,
	}
	log := o.logger.Named("improvement").With(
		zap.String("opportunity_id", op.ID),
		zap.String("component", op.Component),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Improvement pipeline panicked", zap.Any("panic", r))
			outcome.State = schemas.StateFailed
			outcome.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	// -- generating --
	outcome.State = schemas.StateGenerating
	change, err := o.deps.Generator.Generate(ctx, op, o.deps.Arch(op.Component))
	if err != nil {
		log.Warn("Generation failed", zap.Error(err))
		outcome.State = schemas.StateFailed
		outcome.Detail = err.Error()
		return outcome
	}

	// -- validating --
	outcome.State = schemas.StateValidating
	if err := o.deps.Validator.Validate(change); err != nil {
		var verr *schemas.ValidationError
		if errors.As(err, &verr) {
			outcome.FailedChecks = verr.FailedChecks
		}
		log.Info("Candidate rejected by validation", zap.Strings("failed_checks", outcome.FailedChecks))
		outcome.State = schemas.StateFailed
		outcome.Detail = err.Error()
		return outcome
	}

	// -- deploying --
	outcome.State = schemas.StateDeploying

	scope := schemas.ScopeSystemWide
	if op.Tenant != "" {
		scope = schemas.ScopeTenant
	}
	// Approval first: a system-wide wait can last minutes, and the baseline
	// has to be captured after it so it reflects the component just before
	// the write.
	if err := o.deps.Deployer.Authorize(ctx, op, scope); err != nil {
		if errors.Is(err, schemas.ErrApprovalTimeout) || errors.Is(err, schemas.ErrApprovalDenied) {
			log.Info("Deployment declined", zap.Error(err))
			outcome.State = schemas.StateDeclined
			outcome.Detail = err.Error()
			return outcome
		}
		log.Error("Deployment authorization failed", zap.Error(err))
		outcome.State = schemas.StateFailed
		outcome.Detail = err.Error()
		return outcome
	}

	baseline, err := o.deps.Monitor.CaptureBaseline(ctx, op.Component)
	if err != nil {
		log.Warn("Baseline capture failed, deployment skipped", zap.Error(err))
		outcome.State = schemas.StateFailed
		outcome.Detail = fmt.Sprintf("baseline capture: %v", err)
		return outcome
	}

	dep, err := o.deps.Deployer.Deploy(ctx, op, change, scope)
	if err != nil {
		log.Error("Deployment failed", zap.Error(err))
		outcome.State = schemas.StateFailed
		outcome.Detail = err.Error()
		return outcome
	}
	if o.deps.Reports != nil {
		if err := o.deps.Reports.SaveDeployment(ctx, dep); err != nil {
			log.Warn("Saving deployment record failed", zap.Error(err))
		}
	}

	// -- monitoring --
	outcome.State = schemas.StateMonitoring
	result, watchErr := o.deps.Monitor.Watch(ctx, dep, baseline)

	if result.FinalDecision == schemas.DecisionRollback {
		reason := fmt.Sprintf("degradation %.4f", result.DegradationAtDecision)
		if watchErr != nil && !errors.Is(watchErr, schemas.ErrDegradationDetected) {
			reason = fmt.Sprintf("monitoring interrupted: %v", watchErr)
		}
		// Rollback must survive cycle cancellation; it runs on its own
		// context.
		if err := o.deps.Deployer.Rollback(context.Background(), dep, reason); err != nil {
			log.Error("Rollback failed", zap.Error(err))
			outcome.State = schemas.StateFailed
			outcome.Detail = fmt.Sprintf("rollback: %v", err)
			return outcome
		}
		o.updateDeploymentStatus(dep.ID, schemas.StatusRolledBack, log)
		if o.deps.Alerter != nil {
			o.deps.Alerter.Alert(context.Background(), "deployment rolled back", map[string]string{
				"deployment_id": dep.ID,
				"component":     dep.Component,
				"degradation":   strconv.FormatFloat(result.DegradationAtDecision, 'f', 4, 64),
				"reason":        reason,
			})
		}
		outcome.State = schemas.StateRolledBack
		outcome.Degradation = result.DegradationAtDecision
		outcome.Detail = reason
		return outcome
	}

	o.deps.Deployer.ReleaseSnapshot(dep.PreviousVersionRef)
	outcome.State = schemas.StateFinalized
	log.Info("Improvement finalized", zap.Int("samples", len(result.Samples)))
	return outcome
}

func (o *Orchestrator) updateDeploymentStatus(id string, status schemas.DeploymentStatus, log *zap.Logger) {
	if o.deps.Reports == nil {
		return
	}
	if err := o.deps.Reports.UpdateDeploymentStatus(context.Background(), id, status); err != nil {
		log.Warn("Updating deployment status failed", zap.Error(err))
	}
}
