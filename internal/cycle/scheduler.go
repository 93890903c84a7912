package cycle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// Scheduler fires scheduled cycles on the configured interval and emergency
// cycles when the event stream carries a critical alarm.
type Scheduler struct {
	orch    *Orchestrator
	backend schemas.TelemetryBackend
	cfg     config.CycleConfig
	logger  *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler wires a scheduler to the orchestrator and the event stream.
func NewScheduler(orch *Orchestrator, backend schemas.TelemetryBackend, cfg config.CycleConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		orch:    orch,
		backend: backend,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled, driving both trigger sources.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runScheduled(ctx) })
	g.Go(func() error { return s.watchEvents(ctx) })
	return g.Wait()
}

// runScheduled sleeps until the next start time, then triggers a scheduled
// cycle unless the orchestrator is halted.
func (s *Scheduler) runScheduled(ctx context.Context) error {
	for {
		next := s.nextRun(s.now())
		s.logger.Info("Next scheduled cycle", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if s.orch.Halted() {
			s.logger.Warn("Scheduling paused, skipping cycle")
			continue
		}
		cycleID, err := s.orch.TriggerCycle(ctx, schemas.TriggerRequest{Mode: schemas.TriggerScheduled})
		if err != nil {
			s.logger.Warn("Scheduled trigger rejected", zap.Error(err))
			continue
		}
		s.logger.Info("Scheduled cycle triggered", zap.String("cycle_id", cycleID))
	}
}

// nextRun finds the next occurrence of the configured start hour, stepping
// by the interval.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.StartHour, 0, 0, 0, now.Location())
	interval := time.Duration(s.cfg.IntervalHours) * time.Hour
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// watchEvents reacts to critical alarms with an emergency cycle: the
// configured emergency window, a single improvement, triggered within the
// configured reaction time.
func (s *Scheduler) watchEvents(ctx context.Context) error {
	events, err := s.backend.Events(ctx)
	if err != nil {
		s.logger.Error("Event stream unavailable, emergency triggers disabled", zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != schemas.EventTypeCriticalAlarm {
				continue
			}
			if s.orch.Halted() {
				s.logger.Warn("Critical alarm ignored, scheduling halted",
					zap.String("source", ev.Source))
				continue
			}
			s.logger.Warn("Critical alarm received, triggering emergency cycle",
				zap.String("source", ev.Source))
			s.triggerEmergency(ctx, ev.Source)
		}
	}
}

// triggerEmergency requests an emergency cycle. When the orchestrator is
// busy with an ordinary cycle, it keeps retrying inside the reaction
// window rather than dropping the alarm.
func (s *Scheduler) triggerEmergency(ctx context.Context, source string) {
	windowHours := int(s.cfg.EmergencyWindow / time.Hour)
	if windowHours < 1 {
		windowHours = 1
	}
	req := schemas.TriggerRequest{
		Mode:                schemas.TriggerEmergency,
		AnalysisWindowHours: windowHours,
		MaxImprovements:     1,
	}

	reaction := s.cfg.EmergencyReaction
	if reaction <= 0 {
		reaction = 30 * time.Second
	}
	deadline := time.NewTimer(reaction)
	defer deadline.Stop()
	retry := reaction / 10
	if retry < 10*time.Millisecond {
		retry = 10 * time.Millisecond
	}

	for {
		cycleID, err := s.orch.TriggerCycle(ctx, req)
		if err == nil {
			s.logger.Info("Emergency cycle triggered",
				zap.String("cycle_id", cycleID),
				zap.String("source", source))
			return
		}
		if s.orch.Halted() {
			s.logger.Warn("Emergency trigger rejected", zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.logger.Error("Emergency reaction window elapsed before a cycle slot opened",
				zap.String("source", source), zap.Error(err))
			return
		case <-time.After(retry):
		}
	}
}
