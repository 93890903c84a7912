package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock, zaptest.NewLogger(t)), mock
}

func sampleReport() schemas.CycleReport {
	now := time.Now().UTC().Truncate(time.Second)
	return schemas.CycleReport{
		CycleID:                 "cycle-1",
		Trigger:                 schemas.TriggerScheduled,
		StartTime:               now.Add(-time.Hour),
		EndTime:                 now,
		OpportunitiesIdentified: 4,
		ImprovementsAttempted:   2,
		ImprovementsDeployed:    1,
		TotalImpactScore:        10800,
	}
}

func TestSaveReport(t *testing.T) {
	s, mock := newMockStore(t)
	report := sampleReport()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cycle_reports")).
		WithArgs(report.CycleID, string(report.Trigger), report.StartTime, report.EndTime, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReport_RoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	report := sampleReport()
	payload, err := json.Marshal(report)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT report FROM cycle_reports")).
		WithArgs(report.CycleID).
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow(payload))

	got, err := s.GetReport(context.Background(), report.CycleID)
	require.NoError(t, err)
	assert.Equal(t, report, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDeployment(t *testing.T) {
	s, mock := newMockStore(t)
	dep := schemas.Deployment{
		ID:                 "dep-1",
		OpportunityID:      "opp-1",
		Component:          "checkout",
		PreviousVersionRef: "ref-a",
		NewVersionHash:     "hash-b",
		Scope:              schemas.ScopeTenant,
		DeployedAt:         time.Now().UTC(),
		Status:             schemas.StatusDeployed,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deployments")).
		WithArgs(dep.ID, dep.OpportunityID, dep.Component, dep.PreviousVersionRef,
			dep.NewVersionHash, string(dep.Scope), dep.DeployedAt, string(dep.Status)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveDeployment(context.Background(), dep))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeploymentStatus_MissingRowIsAnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deployments SET status")).
		WithArgs("dep-missing", string(schemas.StatusRolledBack)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateDeploymentStatus(context.Background(), "dep-missing", schemas.StatusRolledBack)
	assert.ErrorContains(t, err, "no such deployment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_AssignsNextSequenceInTx(t *testing.T) {
	s, mock := newMockStore(t)
	record := schemas.AuditRecord{
		ID:        "audit-1",
		Kind:      schemas.AuditKindDeploy,
		Component: "checkout",
		Timestamp: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_records")).
		WithArgs(record.Component).
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WithArgs(record.ID, record.Component, int64(7), record.Kind, pgxmock.AnyArg(), record.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, s.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_InsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	record := schemas.AuditRecord{ID: "audit-1", Kind: schemas.AuditKindDeploy, Component: "checkout"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_records")).
		WithArgs(record.Component).
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := s.Append(context.Background(), record)
	assert.ErrorContains(t, err, "saving audit record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemStore_AuditSequencesPerComponent(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, schemas.AuditRecord{ID: "a", Component: "checkout"}))
	require.NoError(t, m.Append(ctx, schemas.AuditRecord{ID: "b", Component: "checkout"}))
	require.NoError(t, m.Append(ctx, schemas.AuditRecord{ID: "c", Component: "catalog"}))

	trail := m.AuditTrail()
	require.Len(t, trail, 3)
	assert.Equal(t, int64(1), trail[0].Sequence)
	assert.Equal(t, int64(2), trail[1].Sequence)
	assert.Equal(t, int64(1), trail[2].Sequence, "sequences are per component")
}

func TestMemStore_ReportRoundTrip(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	report := sampleReport()

	require.NoError(t, m.SaveReport(ctx, report))
	got, err := m.GetReport(ctx, report.CycleID)
	require.NoError(t, err)
	assert.Equal(t, report, got)

	_, err = m.GetReport(ctx, "nope")
	assert.Error(t, err)
}
