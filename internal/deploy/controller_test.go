package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

type fakeReloader struct {
	calls []string
	fail  bool
}

func (f *fakeReloader) Reload(ctx context.Context, componentID string) error {
	f.calls = append(f.calls, componentID)
	if f.fail {
		return errors.New("reload refused")
	}
	return nil
}

type recordingAudit struct {
	records []schemas.AuditRecord
}

func (r *recordingAudit) Append(ctx context.Context, record schemas.AuditRecord) error {
	r.records = append(r.records, record)
	return nil
}

type fixedGate struct {
	decision schemas.ApprovalDecision
	block    bool
}

func (g *fixedGate) RequestApproval(ctx context.Context, deploymentID string) (schemas.ApprovalDecision, error) {
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.decision, nil
}

type harness struct {
	controller *Controller
	root       string
	reloader   *fakeReloader
	audit      *recordingAudit
	gate       *fixedGate
}

func newHarness(t *testing.T) *harness {
	root := t.TempDir()
	reloader := &fakeReloader{}
	audit := &recordingAudit{}
	gate := &fixedGate{decision: schemas.ApprovalGranted}

	cfg := config.DeployConfig{
		Root:            root,
		SnapshotDir:     filepath.Join(t.TempDir(), "snapshots"),
		ApprovalTimeout: 50 * time.Millisecond,
	}
	snapshots := NewSnapshotStore(cfg.Root, cfg.SnapshotDir)
	c := NewController(cfg, snapshots, reloader, audit, gate, zaptest.NewLogger(t))
	return &harness{controller: c, root: root, reloader: reloader, audit: audit, gate: gate}
}

func (h *harness) seed(t *testing.T, rel, content string) {
	abs := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (h *harness) read(t *testing.T, rel string) string {
	data, err := os.ReadFile(filepath.Join(h.root, rel))
	require.NoError(t, err)
	return string(data)
}

func sampleOp() schemas.ImprovementOpportunity {
	return schemas.ImprovementOpportunity{
		ID:        "opp-1",
		Type:      schemas.OpportunityPerformance,
		Component: "checkout",
	}
}

func sampleChange(files map[string]string) schemas.CandidateChange {
	return schemas.CandidateChange{OpportunityID: "opp-1", Files: files}
}

func TestDeploy_WritesFilesAndAudits(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "svc/handler.go", "package svc // v1\n")

	dep, err := h.controller.Deploy(context.Background(), sampleOp(), sampleChange(map[string]string{
		"svc/handler.go": "package svc // v2\n",
	}), schemas.ScopeTenant)
	require.NoError(t, err)

	assert.Equal(t, "package svc // v2\n", h.read(t, "svc/handler.go"))
	assert.Equal(t, schemas.StatusDeployed, dep.Status)
	assert.NotEmpty(t, dep.PreviousVersionRef)
	assert.NotEmpty(t, dep.NewVersionHash)
	assert.Equal(t, []string{"checkout"}, h.reloader.calls)

	require.Len(t, h.audit.records, 1)
	assert.Equal(t, schemas.AuditKindDeploy, h.audit.records[0].Kind)
	assert.Equal(t, dep.ID, h.audit.records[0].DeploymentID)
}

func TestDeploy_RollbackRestoresBytesExactly(t *testing.T) {
	h := newHarness(t)
	original := map[string]string{
		"svc/handler.go": "package svc\n\nfunc Handle() {}\n",
		"svc/cache.go":   "package svc\n\nvar ttl = 300\n",
	}
	for rel, content := range original {
		h.seed(t, rel, content)
	}

	dep, err := h.controller.Deploy(context.Background(), sampleOp(), sampleChange(map[string]string{
		"svc/handler.go": "package svc\n\nfunc Handle() { fast() }\n",
		"svc/cache.go":   "package svc\n\nvar ttl = 60\n",
		"svc/fast.go":    "package svc\n\nfunc fast() {}\n",
	}), schemas.ScopeTenant)
	require.NoError(t, err)

	require.NoError(t, h.controller.Rollback(context.Background(), dep, "degradation 0.15"))

	restored := map[string]string{
		"svc/handler.go": h.read(t, "svc/handler.go"),
		"svc/cache.go":   h.read(t, "svc/cache.go"),
	}
	if diff := cmp.Diff(original, restored); diff != "" {
		t.Fatalf("restored tree differs from original (-want +got):\n%s", diff)
	}

	// The file introduced by the deployment is gone again.
	_, err = os.Stat(filepath.Join(h.root, "svc/fast.go"))
	assert.True(t, os.IsNotExist(err))

	require.Len(t, h.audit.records, 2)
	assert.Equal(t, schemas.AuditKindRollback, h.audit.records[1].Kind)
	assert.Equal(t, "degradation 0.15", h.audit.records[1].Detail)
}

func TestDeploy_ReloadFailureRestoresOriginal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "svc/handler.go", "package svc // v1\n")
	h.reloader.fail = true

	_, err := h.controller.Deploy(context.Background(), sampleOp(), sampleChange(map[string]string{
		"svc/handler.go": "package svc // v2\n",
	}), schemas.ScopeTenant)

	require.ErrorIs(t, err, schemas.ErrDeploymentFailure)
	assert.Equal(t, "package svc // v1\n", h.read(t, "svc/handler.go"))
	assert.Empty(t, h.audit.records, "failed deployments write no deploy record")
}

func TestAuthorize_SystemWideGrantedProceeds(t *testing.T) {
	h := newHarness(t)
	h.gate.decision = schemas.ApprovalGranted

	require.NoError(t, h.controller.Authorize(context.Background(), sampleOp(), schemas.ScopeSystemWide))
	assert.Empty(t, h.audit.records)
}

func TestAuthorize_SystemWideDenied(t *testing.T) {
	h := newHarness(t)
	h.gate.decision = schemas.ApprovalDenied

	err := h.controller.Authorize(context.Background(), sampleOp(), schemas.ScopeSystemWide)

	require.ErrorIs(t, err, schemas.ErrApprovalDenied)
	assert.Empty(t, h.reloader.calls)

	require.Len(t, h.audit.records, 1)
	assert.Equal(t, schemas.AuditKindDeclined, h.audit.records[0].Kind)
	assert.Equal(t, "approval denied", h.audit.records[0].Detail)
}

func TestAuthorize_SystemWideTimeout(t *testing.T) {
	h := newHarness(t)
	h.gate.block = true

	err := h.controller.Authorize(context.Background(), sampleOp(), schemas.ScopeSystemWide)

	require.ErrorIs(t, err, schemas.ErrApprovalTimeout)

	require.Len(t, h.audit.records, 1)
	assert.Equal(t, schemas.AuditKindDeclined, h.audit.records[0].Kind)
	assert.Equal(t, "approval timeout", h.audit.records[0].Detail)
}

func TestAuthorize_TenantScopeSkipsGate(t *testing.T) {
	h := newHarness(t)
	h.gate.block = true // would hang if consulted

	require.NoError(t, h.controller.Authorize(context.Background(), sampleOp(), schemas.ScopeTenant))
}

func TestDeploy_PathEscapeRejectedBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)

	_, err := h.controller.Deploy(context.Background(), sampleOp(), sampleChange(map[string]string{
		"../outside.go": "package evil\n",
	}), schemas.ScopeTenant)

	require.ErrorIs(t, err, schemas.ErrDeploymentFailure)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(h.root), "outside.go"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHashFiles_StableAcrossMapOrder(t *testing.T) {
	a := HashFiles(map[string]string{"a.go": "1", "b.go": "2"})
	b := HashFiles(map[string]string{"b.go": "2", "a.go": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashFiles(map[string]string{"a.go": "1", "b.go": "3"}))
}
