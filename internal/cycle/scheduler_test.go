package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

type channelBackend struct {
	events chan schemas.Event
}

func (c *channelBackend) Query(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.RawTelemetry, error) {
	return schemas.RawTelemetry{}, nil
}

func (c *channelBackend) Events(ctx context.Context) (<-chan schemas.Event, error) {
	return c.events, nil
}

func schedulerConfig() config.CycleConfig {
	return config.CycleConfig{
		IntervalHours:             24,
		StartHour:                 3,
		MaxConcurrentImprovements: 3,
		FailureAlarmThreshold:     3,
		EmergencyWindow:           time.Hour,
		EmergencyReaction:         30 * time.Second,
	}
}

func TestNextRun_BeforeStartHourSameDay(t *testing.T) {
	s := &Scheduler{cfg: schedulerConfig()}
	now := time.Date(2026, 8, 29, 1, 30, 0, 0, time.UTC)

	next := s.nextRun(now)
	assert.Equal(t, time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC), next)
}

func TestNextRun_AfterStartHourRollsToNextInterval(t *testing.T) {
	s := &Scheduler{cfg: schedulerConfig()}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	next := s.nextRun(now)
	assert.Equal(t, time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC), next)
}

func TestNextRun_ShortIntervalStaysSameDay(t *testing.T) {
	cfg := schedulerConfig()
	cfg.IntervalHours = 6
	s := &Scheduler{cfg: cfg}
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	next := s.nextRun(now)
	assert.Equal(t, time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC), next)
}

func TestWatchEvents_CriticalAlarmTriggersEmergencyCycle(t *testing.T) {
	h := newCycleHarness(t, []schemas.ImprovementOpportunity{someOpp("opp-1", "checkout", 100)})
	backend := &channelBackend{events: make(chan schemas.Event, 1)}
	s := NewScheduler(h.orch, backend, schedulerConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchEvents(ctx) }()

	backend.events <- schemas.Event{
		Type:      schemas.EventTypeCriticalAlarm,
		Source:    "checkout",
		Timestamp: time.Now().UTC(),
	}

	require.Eventually(t, func() bool {
		status := h.orch.SystemStatus()
		return status.State != schemas.CycleIdle || !status.LastCycleEnded.IsZero()
	}, 2*time.Second, 10*time.Millisecond, "alarm must trigger a cycle promptly")

	// Let the emergency cycle finish before tearing down.
	require.Eventually(t, func() bool {
		return h.orch.SystemStatus().State == schemas.CycleIdle
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchEvents_EmergencyWindowFromConfig(t *testing.T) {
	h := newCycleHarness(t, nil)
	backend := &channelBackend{events: make(chan schemas.Event, 1)}
	cfg := schedulerConfig()
	cfg.EmergencyWindow = 2 * time.Hour
	s := NewScheduler(h.orch, backend, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchEvents(ctx) }()

	backend.events <- schemas.Event{
		Type:      schemas.EventTypeCriticalAlarm,
		Source:    "checkout",
		Timestamp: time.Now().UTC(),
	}

	require.Eventually(t, func() bool {
		for _, span := range h.collector.windowSpans() {
			if span == 2*time.Hour {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "emergency cycle must analyze the configured window")

	require.Eventually(t, func() bool {
		return h.orch.SystemStatus().State == schemas.CycleIdle
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchEvents_BusyOrchestratorRetriedWithinReaction(t *testing.T) {
	h := newCycleHarness(t, []schemas.ImprovementOpportunity{someOpp("opp-1", "checkout", 100)})
	h.generator.delay = 50 * time.Millisecond
	backend := &channelBackend{events: make(chan schemas.Event, 1)}
	cfg := schedulerConfig()
	cfg.EmergencyReaction = 2 * time.Second
	s := NewScheduler(h.orch, backend, cfg, zaptest.NewLogger(t))

	// Occupy the cycle slot with a slow manual cycle, then raise the alarm.
	_, err := h.orch.TriggerCycle(context.Background(), manualRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchEvents(ctx) }()

	backend.events <- schemas.Event{
		Type:      schemas.EventTypeCriticalAlarm,
		Source:    "checkout",
		Timestamp: time.Now().UTC(),
	}

	// The alarm lands while the manual cycle holds the slot; the scheduler
	// keeps retrying inside the reaction window instead of dropping it.
	// The one-hour collection window identifies the emergency cycle.
	require.Eventually(t, func() bool {
		for _, span := range h.collector.windowSpans() {
			if span == time.Hour {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "alarm must not be dropped while a cycle is running")

	require.Eventually(t, func() bool {
		return h.orch.SystemStatus().State == schemas.CycleIdle
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchEvents_NonCriticalEventsIgnored(t *testing.T) {
	h := newCycleHarness(t, nil)
	backend := &channelBackend{events: make(chan schemas.Event, 1)}
	s := NewScheduler(h.orch, backend, schedulerConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchEvents(ctx) }()

	backend.events <- schemas.Event{Type: "JOB_DONE", Source: "worker"}
	time.Sleep(50 * time.Millisecond)
	assert.True(t, h.orch.SystemStatus().LastCycleEnded.IsZero(), "no cycle should have run")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchEvents_HaltedOrchestratorIgnoresAlarms(t *testing.T) {
	h := newCycleHarness(t, nil)
	h.orch.EmergencyDisable(context.Background())
	backend := &channelBackend{events: make(chan schemas.Event, 1)}
	s := NewScheduler(h.orch, backend, schedulerConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchEvents(ctx) }()

	backend.events <- schemas.Event{Type: schemas.EventTypeCriticalAlarm, Source: "checkout"}
	time.Sleep(50 * time.Millisecond)
	assert.True(t, h.orch.SystemStatus().LastCycleEnded.IsZero())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
