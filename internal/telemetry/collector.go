// Package telemetry pulls metrics, logs, and events from the backend and
// normalizes them into immutable snapshots.
package telemetry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// Collector queries the telemetry backend on demand, deduplicates events,
// and falls back to the last cached snapshot when the backend is down.
// It also implements schemas.MetricsProvider for the monitor.
type Collector struct {
	backend schemas.TelemetryBackend
	cfg     config.TelemetryConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	cached *schemas.TelemetrySnapshot
}

// NewCollector wires a collector to the backend.
func NewCollector(backend schemas.TelemetryBackend, cfg config.TelemetryConfig, logger *zap.Logger) *Collector {
	limit := rate.Limit(cfg.QueryRateLimit)
	if cfg.QueryRateLimit <= 0 {
		limit = rate.Inf
	}
	return &Collector{
		backend: backend,
		cfg:     cfg,
		logger:  logger.Named("telemetry"),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Run pulls the full analysis window from the backend on the configured
// interval, keeping the cached snapshot warm so a backend outage at cycle
// time still has fresh data to fall back on. It blocks until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.cfg.PullInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Telemetry pull loop started",
		zap.Duration("pull_interval", interval),
		zap.Duration("analysis_window", c.cfg.AnalysisWindow))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			window := schemas.TimeRange{Start: now.Add(-c.cfg.AnalysisWindow), End: now}
			if _, err := c.Collect(ctx, window, schemas.Dimensions{}); err != nil {
				c.logger.Warn("Background telemetry pull failed", zap.Error(err))
			}
		}
	}
}

// Collect builds a snapshot for the window. When the backend is unreachable
// it returns the last cached snapshot flagged stale; with no cache it
// returns schemas.ErrTelemetryUnavailable.
func (c *Collector) Collect(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.TelemetrySnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.TelemetrySnapshot{}, fmt.Errorf("waiting for query slot: %w", err)
	}

	raw, err := c.backend.Query(ctx, window, dims)
	if err != nil {
		c.logger.Warn("Telemetry backend unreachable, falling back to cached snapshot", zap.Error(err))
		c.mu.RLock()
		cached := c.cached
		c.mu.RUnlock()
		if cached == nil {
			return schemas.TelemetrySnapshot{}, fmt.Errorf("%w: %v", schemas.ErrTelemetryUnavailable, err)
		}
		stale := *cached
		stale.Stale = true
		return stale, nil
	}

	snapshot := schemas.TelemetrySnapshot{
		ID:          uuid.NewString(),
		Window:      window,
		Metrics:     raw.Metrics,
		Logs:        raw.Logs,
		Events:      c.dedupEvents(raw.Events),
		CollectedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.cached = &snapshot
	c.mu.Unlock()

	c.logger.Debug("Collected telemetry snapshot",
		zap.String("snapshot_id", snapshot.ID),
		zap.Int("metric_series", len(snapshot.Metrics)),
		zap.Int("logs", len(snapshot.Logs)),
		zap.Int("events", len(snapshot.Events)),
	)
	return snapshot, nil
}

// dedupEvents drops events that repeat an identical (type, source, payload)
// tuple within the dedup window. The first occurrence wins.
func (c *Collector) dedupEvents(events []schemas.Event) []schemas.Event {
	if len(events) == 0 {
		return events
	}

	sorted := make([]schemas.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	window := c.cfg.DedupWindow
	lastSeen := make(map[uint64]time.Time)
	out := make([]schemas.Event, 0, len(sorted))

	for _, ev := range sorted {
		key := eventKey(ev)
		if seen, ok := lastSeen[key]; ok && ev.Timestamp.Sub(seen) < window {
			continue
		}
		lastSeen[key] = ev.Timestamp
		out = append(out, ev)
	}
	return out
}

// eventKey hashes the identity tuple of an event. Payload keys are sorted so
// equal maps hash equally.
func eventKey(ev schemas.Event) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ev.Type))
	h.Write([]byte{0})
	h.Write([]byte(ev.Source))
	h.Write([]byte{0})

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(ev.Payload[k]))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// CurrentMetrics derives a point-in-time sample for one component from the
// backend's last five minutes of data.
func (c *Collector) CurrentMetrics(ctx context.Context, component string) (schemas.MetricSample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.MetricSample{}, fmt.Errorf("waiting for query slot: %w", err)
	}

	now := time.Now().UTC()
	window := schemas.TimeRange{Start: now.Add(-5 * time.Minute), End: now}
	raw, err := c.backend.Query(ctx, window, schemas.Dimensions{Component: component})
	if err != nil {
		return schemas.MetricSample{}, fmt.Errorf("%w: %v", schemas.ErrTelemetryUnavailable, err)
	}

	sample := schemas.MetricSample{TakenAt: now}
	var latencies []float64
	for _, series := range raw.Metrics {
		if series.Component != component && series.Component != "" {
			continue
		}
		switch {
		case strings.EqualFold(series.Name, schemas.MetricLatencyMs):
			for _, p := range series.Points {
				latencies = append(latencies, p.Value)
			}
		case strings.EqualFold(series.Name, schemas.MetricErrorRate):
			sample.ErrorRate = seriesMean(series.Points)
		case strings.EqualFold(series.Name, schemas.MetricThroughput):
			sample.Throughput = seriesMean(series.Points)
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		sample.LatencyP50Ms = percentile(latencies, 0.50)
		sample.LatencyP95Ms = percentile(latencies, 0.95)
		sample.LatencyP99Ms = percentile(latencies, 0.99)
	}
	return sample, nil
}

func seriesMean(points []schemas.MetricPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// percentile expects sorted input and interpolates linearly between ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
