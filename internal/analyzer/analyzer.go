// Package analyzer turns telemetry snapshots into scored, prioritized
// improvement opportunities.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// Analyzer runs the three detectors over a snapshot and scores the results.
type Analyzer struct {
	cfg     config.AnalyzerConfig
	history schemas.OutcomeSink
	logger  *zap.Logger
}

// NewAnalyzer builds an analyzer. history may be nil, in which case no
// outcome feedback is applied.
func NewAnalyzer(cfg config.AnalyzerConfig, history schemas.OutcomeSink, logger *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, history: history, logger: logger.Named("analyzer")}
}

// seriesStats is the aggregate of one (metric, component) series.
type seriesStats struct {
	mean   float64
	stddev float64
	count  int
}

// Analyze detects opportunities by comparing the current snapshot against a
// longer baseline snapshot. Detections on a stale snapshot have their
// confidence halved.
func (a *Analyzer) Analyze(ctx context.Context, current, baseline schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity {
	var opps []schemas.ImprovementOpportunity
	opps = append(opps, a.detectTrends(current, baseline)...)
	opps = append(opps, a.detectErrorClusters(current)...)
	opps = append(opps, a.detectCachingGaps(current)...)

	for i := range opps {
		if current.Stale {
			opps[i].ConfidenceScore *= 0.5
		}
		opps[i].ImpactScore = a.score(opps[i])
	}

	a.logger.Info("Analysis complete",
		zap.String("snapshot_id", current.ID),
		zap.Int("opportunities", len(opps)),
		zap.Bool("stale", current.Stale),
	)
	return opps
}

// detectTrends compares the last hour of each current series against the
// baseline mean. A series qualifies when it deviates more than two standard
// deviations from its baseline and crosses the metric-specific threshold.
func (a *Analyzer) detectTrends(current, baseline schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity {
	base := collectStats(baseline.Metrics, baseline.Window.End)
	cutoff := current.Window.End.Add(-time.Hour)

	var opps []schemas.ImprovementOpportunity
	for _, series := range current.Metrics {
		recent := pointsAfter(series.Points, cutoff)
		if len(recent) == 0 {
			continue
		}
		nowMean := mean(recent)

		stats, ok := base[statKey(series.Name, series.Component)]
		if !ok || stats.count < 2 {
			continue
		}
		if math.Abs(nowMean-stats.mean) <= 2*stats.stddev {
			continue
		}

		users := a.usersPerHour(current, series.Component)

		switch series.Name {
		case schemas.MetricLatencyMs:
			if stats.mean <= 0 {
				continue
			}
			degPct := (nowMean - stats.mean) / stats.mean * 100
			if degPct <= a.cfg.LatencyDegradationPct {
				continue
			}
			opps = append(opps, schemas.ImprovementOpportunity{
				ID:        uuid.NewString(),
				Type:      schemas.OpportunityPerformance,
				Component: series.Component,
				Tenant:    series.Tenant,
				Description: fmt.Sprintf("latency regression on %s: %.0fms vs %.0fms baseline (%.0f%%)",
					series.Component, nowMean, stats.mean, degPct),
				Severity:                  latencySeverity(degPct),
				ConfidenceScore:           trendConfidence(len(recent)),
				RiskLevel:                 schemas.RiskMedium,
				PerformanceGainPercentage: math.Min(degPct, 50),
				AffectedUsersPerHour:      users,
				FrequencyPerDay:           24,
				Evidence: []string{fmt.Sprintf("%s/%s mean %.2f over last hour, baseline %.2f (stddev %.2f)",
					series.Component, series.Name, nowMean, stats.mean, stats.stddev)},
			})

		case schemas.MetricErrorRate:
			increasePts := (nowMean - stats.mean) * 100
			if increasePts <= a.cfg.ErrorRateIncreasePts {
				continue
			}
			opps = append(opps, schemas.ImprovementOpportunity{
				ID:        uuid.NewString(),
				Type:      schemas.OpportunityErrorPattern,
				Component: series.Component,
				Tenant:    series.Tenant,
				Description: fmt.Sprintf("error rate on %s rose %.1f points above baseline",
					series.Component, increasePts),
				Severity:                  errorRateSeverity(increasePts),
				ConfidenceScore:           trendConfidence(len(recent)),
				RiskLevel:                 schemas.RiskMedium,
				PerformanceGainPercentage: math.Min(increasePts*2, 50),
				AffectedUsersPerHour:      users * nowMean,
				FrequencyPerDay:           24,
				Evidence: []string{fmt.Sprintf("%s/%s %.4f vs baseline %.4f",
					series.Component, series.Name, nowMean, stats.mean)},
			})

		case schemas.MetricResourceUtil:
			if nowMean <= a.cfg.ResourceUtilPct {
				continue
			}
			opps = append(opps, schemas.ImprovementOpportunity{
				ID:        uuid.NewString(),
				Type:      schemas.OpportunityPerformance,
				Component: series.Component,
				Tenant:    series.Tenant,
				Description: fmt.Sprintf("resource utilization on %s at %.0f%%",
					series.Component, nowMean),
				Severity:                  resourceSeverity(nowMean),
				ConfidenceScore:           trendConfidence(len(recent)),
				RiskLevel:                 schemas.RiskMedium,
				PerformanceGainPercentage: math.Min(nowMean-a.cfg.ResourceUtilPct, 30),
				AffectedUsersPerHour:      users,
				FrequencyPerDay:           24,
				Evidence: []string{fmt.Sprintf("%s/%s %.1f%% vs baseline %.1f%%",
					series.Component, series.Name, nowMean, stats.mean)},
			})

		case schemas.MetricThroughput:
			if stats.mean <= 0 {
				continue
			}
			dropPct := (stats.mean - nowMean) / stats.mean * 100
			if dropPct <= a.cfg.ThroughputDropPct {
				continue
			}
			opps = append(opps, schemas.ImprovementOpportunity{
				ID:        uuid.NewString(),
				Type:      schemas.OpportunityPerformance,
				Component: series.Component,
				Tenant:    series.Tenant,
				Description: fmt.Sprintf("throughput on %s dropped %.0f%% below baseline",
					series.Component, dropPct),
				Severity:                  throughputSeverity(dropPct),
				ConfidenceScore:           trendConfidence(len(recent)),
				RiskLevel:                 schemas.RiskMedium,
				PerformanceGainPercentage: math.Min(dropPct, 50),
				AffectedUsersPerHour:      users,
				FrequencyPerDay:           24,
				Evidence: []string{fmt.Sprintf("%s/%s %.1f vs baseline %.1f",
					series.Component, series.Name, nowMean, stats.mean)},
			})
		}
	}
	return opps
}

// detectErrorClusters groups the trailing hour's log records by (error
// type, component) and flags clusters exceeding the per-hour threshold.
// Only records inside the last hour count; an old burst earlier in the
// window does not qualify.
func (a *Analyzer) detectErrorClusters(snap schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity {
	cutoff := snap.Window.End.Add(-time.Hour)

	type clusterKey struct {
		errorType string
		component string
	}
	clusters := make(map[clusterKey]int)
	for _, rec := range snap.Logs {
		if rec.ErrorType == "" || !rec.Timestamp.After(cutoff) {
			continue
		}
		clusters[clusterKey{rec.ErrorType, rec.Component}]++
	}

	var opps []schemas.ImprovementOpportunity
	for key, count := range clusters {
		perHour := float64(count)
		if perHour <= float64(a.cfg.ErrorClusterMinPerHr) {
			continue
		}
		opps = append(opps, schemas.ImprovementOpportunity{
			ID:        uuid.NewString(),
			Type:      schemas.OpportunityErrorPattern,
			Component: key.component,
			Description: fmt.Sprintf("recurring %s errors on %s (%.0f/hour)",
				key.errorType, key.component, perHour),
			Severity:                  clusterSeverity(perHour),
			ConfidenceScore:           0.9,
			RiskLevel:                 schemas.RiskLow,
			PerformanceGainPercentage: 10,
			AffectedUsersPerHour:      perHour,
			FrequencyPerDay:           perHour * 24,
			Evidence: []string{fmt.Sprintf("%d %s errors on %s in the trailing hour",
				count, key.errorType, key.component)},
		})
	}
	return opps
}

// detectCachingGaps flags components with a low cache hit ratio under
// meaningful load.
func (a *Analyzer) detectCachingGaps(snap schemas.TelemetrySnapshot) []schemas.ImprovementOpportunity {
	ratios := make(map[string]float64)
	requests := make(map[string]float64)
	tenants := make(map[string]string)

	for _, series := range snap.Metrics {
		switch series.Name {
		case schemas.MetricCacheHitRatio:
			ratios[series.Component] = mean(series.Points)
			tenants[series.Component] = series.Tenant
		case schemas.MetricRequestsPerHour:
			requests[series.Component] = mean(series.Points)
		}
	}

	var opps []schemas.ImprovementOpportunity
	for component, ratio := range ratios {
		reqPerHour := requests[component]
		if ratio >= a.cfg.CacheHitRatioMax || reqPerHour <= a.cfg.CacheMinRequestsPerHr {
			continue
		}
		opps = append(opps, schemas.ImprovementOpportunity{
			ID:        uuid.NewString(),
			Type:      schemas.OpportunityCaching,
			Component: component,
			Tenant:    tenants[component],
			Description: fmt.Sprintf("cache hit ratio on %s is %.0f%% under %.0f req/h",
				component, ratio*100, reqPerHour),
			Severity:        schemas.SeverityMedium,
			ConfidenceScore: 0.85,
			RiskLevel:       schemas.RiskLow,
			// A warmed cache roughly converts misses into hits.
			PerformanceGainPercentage: math.Min((a.cfg.CacheHitRatioMax-ratio)*100, 40),
			AffectedUsersPerHour:      reqPerHour,
			FrequencyPerDay:           24,
			Evidence: []string{fmt.Sprintf("%s cache_hit_ratio %.2f, requests_per_hour %.0f",
				component, ratio, reqPerHour)},
		})
	}
	return opps
}

// usersPerHour estimates affected users from the component's request volume.
func (a *Analyzer) usersPerHour(snap schemas.TelemetrySnapshot, component string) float64 {
	for _, series := range snap.Metrics {
		if series.Component == component && series.Name == schemas.MetricRequestsPerHour {
			if v := mean(series.Points); v > 0 {
				return v
			}
		}
	}
	for _, series := range snap.Metrics {
		if series.Component == component && series.Name == schemas.MetricThroughput {
			if v := mean(series.Points); v > 0 {
				return v
			}
		}
	}
	return 1
}

func collectStats(metrics []schemas.MetricSeries, _ time.Time) map[string]seriesStats {
	out := make(map[string]seriesStats, len(metrics))
	for _, series := range metrics {
		if len(series.Points) == 0 {
			continue
		}
		m := mean(series.Points)
		var variance float64
		for _, p := range series.Points {
			d := p.Value - m
			variance += d * d
		}
		variance /= float64(len(series.Points))
		out[statKey(series.Name, series.Component)] = seriesStats{
			mean:   m,
			stddev: math.Sqrt(variance),
			count:  len(series.Points),
		}
	}
	return out
}

func statKey(name, component string) string { return name + "|" + component }

func pointsAfter(points []schemas.MetricPoint, cutoff time.Time) []schemas.MetricPoint {
	out := make([]schemas.MetricPoint, 0, len(points))
	for _, p := range points {
		if p.Timestamp.After(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func mean(points []schemas.MetricPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// trendConfidence scales with how many readings back the current hour mean.
func trendConfidence(samples int) float64 {
	switch {
	case samples >= 30:
		return 0.95
	case samples >= 10:
		return 0.85
	case samples >= 5:
		return 0.7
	default:
		return 0.5
	}
}

func latencySeverity(degPct float64) schemas.Severity {
	switch {
	case degPct >= 100:
		return schemas.SeverityCritical
	case degPct >= 50:
		return schemas.SeverityHigh
	default:
		return schemas.SeverityMedium
	}
}

func errorRateSeverity(increasePts float64) schemas.Severity {
	switch {
	case increasePts >= 20:
		return schemas.SeverityCritical
	case increasePts >= 10:
		return schemas.SeverityHigh
	default:
		return schemas.SeverityMedium
	}
}

func resourceSeverity(utilPct float64) schemas.Severity {
	switch {
	case utilPct >= 95:
		return schemas.SeverityCritical
	case utilPct >= 90:
		return schemas.SeverityHigh
	default:
		return schemas.SeverityMedium
	}
}

func throughputSeverity(dropPct float64) schemas.Severity {
	switch {
	case dropPct >= 70:
		return schemas.SeverityCritical
	case dropPct >= 50:
		return schemas.SeverityHigh
	default:
		return schemas.SeverityMedium
	}
}

func clusterSeverity(perHour float64) schemas.Severity {
	switch {
	case perHour > 100:
		return schemas.SeverityCritical
	case perHour > 50:
		return schemas.SeverityHigh
	default:
		return schemas.SeverityMedium
	}
}
