package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// Controller deploys validated candidates: snapshot first, then write,
// reload, and audit. A failure at any point leaves the component in its
// pre-deployment state.
type Controller struct {
	cfg       config.DeployConfig
	snapshots *SnapshotStore
	reloader  schemas.ReloadController
	audit     schemas.AuditSink
	approval  schemas.ApprovalGate
	logger    *zap.Logger
}

// NewController wires the deployment controller.
func NewController(cfg config.DeployConfig, snapshots *SnapshotStore, reloader schemas.ReloadController, audit schemas.AuditSink, approval schemas.ApprovalGate, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		snapshots: snapshots,
		reloader:  reloader,
		audit:     audit,
		approval:  approval,
		logger:    logger.Named("deploy"),
	}
}

// Snapshots exposes the snapshot store for the monitor's rollbacks.
func (c *Controller) Snapshots() *SnapshotStore {
	return c.snapshots
}

// Authorize gates a deployment by scope. Tenant-scoped changes proceed
// without approval; system-wide changes block until the approval gate
// decides or the configured timeout elapses. Declines leave an audit
// trail. Callers run Authorize before capturing the pre-deployment
// baseline so the approval wait does not stale it.
func (c *Controller) Authorize(ctx context.Context, op schemas.ImprovementOpportunity, scope schemas.DeploymentScope) error {
	if scope != schemas.ScopeSystemWide {
		return nil
	}
	log := c.logger.With(
		zap.String("opportunity_id", op.ID),
		zap.String("component", op.Component),
		zap.String("scope", string(scope)),
	)
	return c.requestApproval(ctx, uuid.NewString(), op, log)
}

// Deploy applies a candidate change for an already authorized opportunity:
// snapshot, write, reload, audit. Returns the recorded deployment.
func (c *Controller) Deploy(ctx context.Context, op schemas.ImprovementOpportunity, change schemas.CandidateChange, scope schemas.DeploymentScope) (schemas.Deployment, error) {
	deploymentID := uuid.NewString()
	log := c.logger.With(
		zap.String("deployment_id", deploymentID),
		zap.String("opportunity_id", op.ID),
		zap.String("component", op.Component),
		zap.String("scope", string(scope)),
	)

	paths := make([]string, 0, len(change.Files))
	for p := range change.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Backup before any write. A snapshot failure means nothing changed.
	ref, err := c.snapshots.Capture(paths)
	if err != nil {
		log.Error("Snapshot failed, deployment aborted", zap.Error(err))
		return schemas.Deployment{}, fmt.Errorf("%w: snapshot: %v", schemas.ErrDeploymentFailure, err)
	}
	log.Info("Snapshot captured", zap.String("snapshot_ref", ref))

	if err := c.writeFiles(change.Files); err != nil {
		log.Error("Write failed, restoring snapshot", zap.Error(err))
		if restoreErr := c.snapshots.Restore(ref); restoreErr != nil {
			log.Error("Restore after failed write also failed", zap.Error(restoreErr))
		}
		return schemas.Deployment{}, fmt.Errorf("%w: write: %v", schemas.ErrDeploymentFailure, err)
	}

	if err := c.reloader.Reload(ctx, op.Component); err != nil {
		log.Error("Reload failed, restoring snapshot", zap.Error(err))
		if restoreErr := c.snapshots.Restore(ref); restoreErr != nil {
			log.Error("Restore after failed reload also failed", zap.Error(restoreErr))
		} else if reloadErr := c.reloader.Reload(ctx, op.Component); reloadErr != nil {
			log.Error("Reload of restored version failed", zap.Error(reloadErr))
		}
		return schemas.Deployment{}, fmt.Errorf("%w: reload: %v", schemas.ErrDeploymentFailure, err)
	}

	dep := schemas.Deployment{
		ID:                 deploymentID,
		OpportunityID:      op.ID,
		Component:          op.Component,
		PreviousVersionRef: ref,
		NewVersionHash:     HashFiles(change.Files),
		Scope:              scope,
		DeployedAt:         time.Now().UTC(),
		Status:             schemas.StatusDeployed,
	}

	if err := c.audit.Append(ctx, schemas.AuditRecord{
		ID:            uuid.NewString(),
		Kind:          schemas.AuditKindDeploy,
		OpportunityID: op.ID,
		DeploymentID:  dep.ID,
		Component:     op.Component,
		PreviousRef:   dep.PreviousVersionRef,
		NewHash:       dep.NewVersionHash,
		Scope:         string(scope),
		Timestamp:     dep.DeployedAt,
	}); err != nil {
		// The change is live; an audit write failure is loud but not fatal.
		log.Error("Audit append failed for deployment", zap.Error(err))
	}

	log.Info("Deployment complete",
		zap.String("previous_ref", dep.PreviousVersionRef),
		zap.String("new_hash", dep.NewVersionHash))
	return dep, nil
}

// Rollback restores the pre-deployment snapshot, reloads the component, and
// appends a rollback audit record with the reason.
func (c *Controller) Rollback(ctx context.Context, dep schemas.Deployment, reason string) error {
	log := c.logger.With(
		zap.String("deployment_id", dep.ID),
		zap.String("component", dep.Component),
	)

	if err := c.snapshots.Restore(dep.PreviousVersionRef); err != nil {
		log.Error("Rollback restore failed", zap.Error(err))
		return fmt.Errorf("restoring snapshot %s: %w", dep.PreviousVersionRef, err)
	}
	if err := c.reloader.Reload(ctx, dep.Component); err != nil {
		log.Error("Rollback reload failed", zap.Error(err))
		return fmt.Errorf("reloading %s after restore: %w", dep.Component, err)
	}

	if err := c.audit.Append(ctx, schemas.AuditRecord{
		ID:            uuid.NewString(),
		Kind:          schemas.AuditKindRollback,
		OpportunityID: dep.OpportunityID,
		DeploymentID:  dep.ID,
		Component:     dep.Component,
		PreviousRef:   dep.PreviousVersionRef,
		NewHash:       dep.NewVersionHash,
		Scope:         string(dep.Scope),
		Detail:        reason,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		log.Error("Audit append failed for rollback", zap.Error(err))
	}

	log.Info("Rollback complete", zap.String("reason", reason))
	return nil
}

// ReleaseSnapshot drops the snapshot manifest after a clean window.
func (c *Controller) ReleaseSnapshot(ref string) {
	if err := c.snapshots.Release(ref); err != nil {
		c.logger.Warn("Failed to release snapshot", zap.String("ref", ref), zap.Error(err))
	}
}

func (c *Controller) requestApproval(ctx context.Context, deploymentID string, op schemas.ImprovementOpportunity, log *zap.Logger) error {
	approvalCtx, cancel := context.WithTimeout(ctx, c.cfg.ApprovalTimeout)
	defer cancel()

	decision, err := c.approval.RequestApproval(approvalCtx, deploymentID)
	if err != nil {
		if approvalCtx.Err() != nil {
			decision = schemas.ApprovalTimeout
		} else {
			return fmt.Errorf("%w: approval gate: %v", schemas.ErrDeploymentFailure, err)
		}
	}

	switch decision {
	case schemas.ApprovalGranted:
		return nil
	case schemas.ApprovalTimeout:
		c.auditDeclined(ctx, deploymentID, op, "approval timeout")
		log.Warn("System-wide deployment declined, approval timed out")
		return schemas.ErrApprovalTimeout
	default:
		c.auditDeclined(ctx, deploymentID, op, "approval denied")
		log.Warn("System-wide deployment declined by operator")
		return schemas.ErrApprovalDenied
	}
}

func (c *Controller) auditDeclined(ctx context.Context, deploymentID string, op schemas.ImprovementOpportunity, detail string) {
	if err := c.audit.Append(ctx, schemas.AuditRecord{
		ID:            uuid.NewString(),
		Kind:          schemas.AuditKindDeclined,
		OpportunityID: op.ID,
		DeploymentID:  deploymentID,
		Component:     op.Component,
		Scope:         string(schemas.ScopeSystemWide),
		Detail:        detail,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		c.logger.Error("Audit append failed for declined deployment", zap.Error(err))
	}
}

// writeFiles writes every candidate file under the deployment root. The
// first failure stops writing; the caller restores the snapshot.
func (c *Controller) writeFiles(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		abs, err := securePath(c.cfg.Root, rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("creating directories for %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(files[rel]), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
	}
	return nil
}
