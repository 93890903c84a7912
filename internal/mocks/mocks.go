// Package mocks provides testify mocks for the collaborator interfaces in
// api/schemas.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// MockTelemetryBackend mocks schemas.TelemetryBackend.
type MockTelemetryBackend struct {
	mock.Mock
}

func (m *MockTelemetryBackend) Query(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.RawTelemetry, error) {
	args := m.Called(ctx, window, dims)
	return args.Get(0).(schemas.RawTelemetry), args.Error(1)
}

func (m *MockTelemetryBackend) Events(ctx context.Context) (<-chan schemas.Event, error) {
	args := m.Called(ctx)
	if ch := args.Get(0); ch != nil {
		return ch.(<-chan schemas.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMetricsProvider mocks schemas.MetricsProvider.
type MockMetricsProvider struct {
	mock.Mock
}

func (m *MockMetricsProvider) CurrentMetrics(ctx context.Context, component string) (schemas.MetricSample, error) {
	args := m.Called(ctx, component)
	return args.Get(0).(schemas.MetricSample), args.Error(1)
}

// MockLLMClient mocks schemas.LLMClient. Generate respects context
// cancellation so timeout paths can be exercised.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// MockReloadController mocks schemas.ReloadController.
type MockReloadController struct {
	mock.Mock
}

func (m *MockReloadController) Reload(ctx context.Context, componentID string) error {
	return m.Called(ctx, componentID).Error(0)
}

// MockAuditSink mocks schemas.AuditSink.
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Append(ctx context.Context, record schemas.AuditRecord) error {
	return m.Called(ctx, record).Error(0)
}

// MockApprovalGate mocks schemas.ApprovalGate.
type MockApprovalGate struct {
	mock.Mock
}

func (m *MockApprovalGate) RequestApproval(ctx context.Context, deploymentID string) (schemas.ApprovalDecision, error) {
	args := m.Called(ctx, deploymentID)
	return args.Get(0).(schemas.ApprovalDecision), args.Error(1)
}

// MockAlerter mocks schemas.Alerter.
type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, message string, fields map[string]string) {
	m.Called(ctx, message, fields)
}

// MockOutcomeSink mocks schemas.OutcomeSink.
type MockOutcomeSink struct {
	mock.Mock
}

func (m *MockOutcomeSink) RecordOutcome(ctx context.Context, outcome schemas.ImprovementOutcome) error {
	return m.Called(ctx, outcome).Error(0)
}

func (m *MockOutcomeSink) Adjustment(opType schemas.OpportunityType, component string) float64 {
	return m.Called(opType, component).Get(0).(float64)
}

// MockReportStore mocks schemas.ReportStore.
type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) SaveReport(ctx context.Context, report schemas.CycleReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *MockReportStore) SaveDeployment(ctx context.Context, dep schemas.Deployment) error {
	return m.Called(ctx, dep).Error(0)
}

func (m *MockReportStore) UpdateDeploymentStatus(ctx context.Context, id string, status schemas.DeploymentStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockReportStore) GetReport(ctx context.Context, cycleID string) (schemas.CycleReport, error) {
	args := m.Called(ctx, cycleID)
	return args.Get(0).(schemas.CycleReport), args.Error(1)
}
