// File: cmd/app.go
package cmd

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/analyzer"
	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/cycle"
	"github.com/xkilldash9x/loopsmith/internal/deploy"
	"github.com/xkilldash9x/loopsmith/internal/generator"
	"github.com/xkilldash9x/loopsmith/internal/history"
	"github.com/xkilldash9x/loopsmith/internal/integrations"
	"github.com/xkilldash9x/loopsmith/internal/llmclient"
	"github.com/xkilldash9x/loopsmith/internal/monitor"
	"github.com/xkilldash9x/loopsmith/internal/registry"
	"github.com/xkilldash9x/loopsmith/internal/store"
	"github.com/xkilldash9x/loopsmith/internal/telemetry"
	"github.com/xkilldash9x/loopsmith/internal/validator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// application bundles the fully wired subsystem for the run and cycle
// commands.
type application struct {
	orch      *cycle.Orchestrator
	scheduler *cycle.Scheduler
	collector *telemetry.Collector

	closers []func()
}

// Run drives the daemon: both of the scheduler's trigger sources plus the
// collector's background pull loop. It blocks until ctx is done.
func (a *application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(ctx) })
	if a.collector != nil {
		g.Go(func() error { return a.collector.Run(ctx) })
	}
	return g.Wait()
}

// Close releases resources in reverse construction order.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// applicationInitializer is a function signature for building the wired
// system. It allows dependency injection in command tests.
type applicationInitializer func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error)

// buildApplication wires every subsystem from the validated configuration.
// It is the default applicationInitializer.
func buildApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}

	var reports schemas.ReportStore
	var audit schemas.AuditSink
	if cfg.Store.InMemory {
		mem := store.NewMemStore()
		reports, audit = mem, mem
	} else {
		st, err := store.Connect(ctx, cfg.Store.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to prepare report store schema: %w", err)
		}
		reports, audit = st, st
		app.closers = append(app.closers, st.Close)
	}

	backend := integrations.NewHTTPBackend(cfg.Integrations, logger)
	collector := telemetry.NewCollector(backend, cfg.Telemetry, logger)
	app.collector = collector

	recorder := history.NewRecorder(logger)
	an := analyzer.NewAnalyzer(cfg.Analyzer, recorder, logger)

	llm, err := llmclient.NewClient(cfg.Generator, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize generation client: %w", err)
	}
	app.closers = append(app.closers, func() { _ = llm.Close() })

	gen := generator.NewGenerator(llm, cfg.Generator, logger)
	val := validator.NewValidator(cfg.Validator, logger)

	snapshots := deploy.NewSnapshotStore(cfg.Deploy.Root, cfg.Deploy.SnapshotDir)
	reloader := integrations.NewHTTPReloader(cfg.Integrations, logger)
	gate := integrations.NewHTTPApprovalGate(cfg.Integrations, logger)
	alerter := integrations.NewWebhookAlerter(cfg.Integrations, logger)
	controller := deploy.NewController(cfg.Deploy, snapshots, reloader, audit, gate, logger)

	mon := monitor.NewMonitor(collector, cfg.Monitor, logger)
	reg := registry.New(cfg.Cycle.MaxConcurrentImprovements)

	app.orch = cycle.NewOrchestrator(cfg.Cycle, cfg.Telemetry, cycle.Deps{
		Collector:    collector,
		Analyzer:     an,
		Generator:    gen,
		Validator:    val,
		Deployer:     controller,
		Monitor:      mon,
		Registry:     reg,
		History:      recorder,
		Reports:      reports,
		Alerter:      alerter,
		BreakerState: func() string { return llm.State().String() },
	}, logger)
	app.scheduler = cycle.NewScheduler(app.orch, backend, cfg.Cycle, logger)

	return app, nil
}
