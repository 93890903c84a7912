// Package monitor watches freshly deployed components and decides whether
// to keep or roll back each change.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// errRateFloor keeps the error-rate denominator away from zero so a clean
// baseline does not turn any error into infinite degradation.
const errRateFloor = 0.01

// Degradation computes the one-sided degradation of current against
// baseline. Improvements never produce a negative value; equilibrium is 0.
func Degradation(baseline schemas.MetricBaseline, current schemas.MetricBaseline) float64 {
	var latDeg, errDeg, thrDeg float64

	if baseline.LatencyP95Ms > 0 {
		latDeg = (current.LatencyP95Ms - baseline.LatencyP95Ms) / baseline.LatencyP95Ms
	}

	denom := baseline.ErrorRate
	if denom < errRateFloor {
		denom = errRateFloor
	}
	errDeg = (current.ErrorRate - baseline.ErrorRate) / denom

	if baseline.Throughput > 0 {
		thrDeg = (baseline.Throughput - current.Throughput) / baseline.Throughput
	}

	deg := latDeg
	if errDeg > deg {
		deg = errDeg
	}
	if thrDeg > deg {
		deg = thrDeg
	}
	if deg < 0 {
		deg = 0
	}
	return deg
}

// Monitor runs post-deployment watch windows.
type Monitor struct {
	metrics schemas.MetricsProvider
	cfg     config.MonitorConfig
	logger  *zap.Logger
}

// NewMonitor builds a monitor over the live metrics provider.
func NewMonitor(metrics schemas.MetricsProvider, cfg config.MonitorConfig, logger *zap.Logger) *Monitor {
	return &Monitor{metrics: metrics, cfg: cfg, logger: logger.Named("monitor")}
}

// CaptureBaseline reads the component's health immediately before a
// deployment goes live.
func (m *Monitor) CaptureBaseline(ctx context.Context, component string) (schemas.MetricBaseline, error) {
	sample, err := m.metrics.CurrentMetrics(ctx, component)
	if err != nil {
		return schemas.MetricBaseline{}, err
	}
	return sample.MetricBaseline, nil
}

// Watch samples the component for the configured window. It returns a
// rollback decision the moment any sample's degradation exceeds the
// threshold; it does not wait for the window to close. Context cancellation
// (shutdown, emergency disable) also resolves to rollback, never to a
// silently abandoned deployment.
func (m *Monitor) Watch(ctx context.Context, dep schemas.Deployment, baseline schemas.MetricBaseline) (schemas.MonitoringResult, error) {
	result := schemas.MonitoringResult{
		DeploymentID: dep.ID,
		Baseline:     baseline,
	}
	log := m.logger.With(
		zap.String("deployment_id", dep.ID),
		zap.String("component", dep.Component),
	)

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.cfg.Window)
	defer deadline.Stop()

	log.Info("Monitoring window opened",
		zap.Duration("window", m.cfg.Window),
		zap.Duration("sample_interval", m.cfg.SampleInterval),
		zap.Float64("rollback_threshold", m.cfg.RollbackThreshold))

	for {
		select {
		case <-ctx.Done():
			log.Warn("Monitoring interrupted, failing safe to rollback", zap.Error(ctx.Err()))
			result.FinalDecision = schemas.DecisionRollback
			return result, ctx.Err()

		case <-deadline.C:
			if len(result.Samples) == 0 {
				log.Warn("Monitoring window closed without a single sample, failing safe to rollback")
				result.FinalDecision = schemas.DecisionRollback
				return result, fmt.Errorf("no samples collected during monitoring window for %s", dep.Component)
			}
			result.FinalDecision = schemas.DecisionKeep
			log.Info("Monitoring window closed clean", zap.Int("samples", len(result.Samples)))
			return result, nil

		case <-ticker.C:
			sample, err := m.metrics.CurrentMetrics(ctx, dep.Component)
			if err != nil {
				log.Warn("Sample unavailable, skipping", zap.Error(err))
				continue
			}

			deg := Degradation(baseline, sample.MetricBaseline)
			result.Samples = append(result.Samples, sample)
			result.DegradationSeries = append(result.DegradationSeries, deg)

			if deg > m.cfg.RollbackThreshold {
				result.FinalDecision = schemas.DecisionRollback
				result.DegradationAtDecision = deg
				log.Warn("Degradation threshold breached",
					zap.Float64("degradation", deg),
					zap.Int("sample", len(result.Samples)))
				return result, schemas.ErrDegradationDetected
			}
			log.Debug("Sample within bounds", zap.Float64("degradation", deg))
		}
	}
}
