// File: cmd/cycle_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/cycle"
	"github.com/xkilldash9x/loopsmith/internal/registry"
	"github.com/xkilldash9x/loopsmith/internal/store"
)

// staticCollector returns an empty snapshot for any window.
type staticCollector struct{}

func (staticCollector) Collect(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.TelemetrySnapshot, error) {
	return schemas.TelemetrySnapshot{Window: window}, nil
}

// staticAnalyzer finds nothing to improve.
type staticAnalyzer struct{}

func (staticAnalyzer) Analyze(ctx context.Context, current, baseline schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity {
	return nil
}

// quietApplication wires an orchestrator that completes cycles without
// touching any external system.
func quietApplication(t *testing.T) applicationInitializer {
	t.Helper()
	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
		orch := cycle.NewOrchestrator(cfg.Cycle, cfg.Telemetry, cycle.Deps{
			Collector:    staticCollector{},
			Analyzer:     staticAnalyzer{},
			Registry:     registry.New(cfg.Cycle.MaxConcurrentImprovements),
			Reports:      store.NewMemStore(),
			BreakerState: func() string { return "closed" },
		}, logger)
		return &application{orch: orch}, nil
	}
}

func TestRunManualCycle_PrintsReport(t *testing.T) {
	cfg := config.NewDefaultConfig()
	var buf bytes.Buffer

	err := runManualCycle(context.Background(), cfg, zaptest.NewLogger(t), 1, 1, "", quietApplication(t), &buf)
	require.NoError(t, err)

	var report schemas.CycleReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, schemas.TriggerManual, report.Trigger)
	assert.Zero(t, report.ImprovementsAttempted)
}

func TestRunManualCycle_InitializerFailurePropagates(t *testing.T) {
	cfg := config.NewDefaultConfig()
	initErr := errors.New("store unreachable")
	initFn := func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
		return nil, initErr
	}

	var buf bytes.Buffer
	err := runManualCycle(context.Background(), cfg, zaptest.NewLogger(t), 0, 0, "", initFn, &buf)
	assert.ErrorIs(t, err, initErr)
	assert.Empty(t, buf.String())
}

func TestRunStatus_RequiresPersistentStore(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.True(t, cfg.Store.InMemory)

	var buf bytes.Buffer
	err := runStatus(context.Background(), cfg, "", 5, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent store")
}

func TestGetConfigFromContext_MissingConfigErrors(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)
}

func TestGetConfigFromContext_RoundTrip(t *testing.T) {
	cfg := config.NewDefaultConfig()
	ctx := context.WithValue(context.Background(), configKey, cfg)

	got, err := getConfigFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
