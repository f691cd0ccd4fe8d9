// Package app wires the service together: config, logging, store, sink,
// dispatcher, trigger manager, and the HTTP API, with startup
// reconciliation completing before the listener accepts requests.
package app

import (
	"context"
	"fmt"
	"time"

	"slotsched/internal/clock"
	"slotsched/internal/config"
	"slotsched/internal/dispatch"
	"slotsched/internal/eventbus"
	"slotsched/internal/handler"
	"slotsched/internal/httpapi"
	"slotsched/internal/runtime/supervisor"
	"slotsched/internal/schedule"
	"slotsched/internal/store"
	"slotsched/internal/trigger"
	"slotsched/pkg/logx"
)

const shutdownGrace = 10 * time.Second

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st   *store.Store
	bus  eventbus.Bus
	mgr  *trigger.Manager
	srv  *httpapi.Server
	supr *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log, err := logx.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	st, err := store.Open(cfg.StoreConfig(), log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	sink := buildSink(cfg, bus, log)

	reg := handler.NewRegistry()
	reg.Register(handler.RefSlotExecution, handler.NewSlotExecutionHandler(sink))
	reg.Register(handler.RefPublish, handler.NewPublishHandler(sink))

	clk := clock.System()
	disp := dispatch.New(reg, clk, log.With(logx.String("comp", "dispatch")))
	mgr := trigger.New(cfg.TriggerConfig(), st, disp, clk, log.With(logx.String("comp", "trigger")))
	svc := schedule.NewService(mgr, reg, clk, log.With(logx.String("comp", "schedule")))
	srv := httpapi.NewServer(cfg.HTTPServer(), svc, log.With(logx.String("comp", "http")))

	return &App{
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		st:     st,
		bus:    bus,
		mgr:    mgr,
		srv:    srv,
	}, nil
}

func buildSink(cfg *config.Config, bus eventbus.Bus, log logx.Logger) dispatch.Sink {
	switch cfg.SinkKind() {
	case config.SinkWebhook:
		return dispatch.NewWebhookSink(cfg.Sink.WebhookURL, cfg.SinkTimeout())
	case config.SinkLog:
		return dispatch.NewLogSink(log.With(logx.String("comp", "sink")))
	default:
		return dispatch.NewBusSink(bus)
	}
}

// Start reconciles persisted job definitions, resumes paused jobs, launches
// the firing loop, and only then brings up the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	a.supr = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(),
	)
	runCtx := a.supr.Context()

	if err := a.mgr.ReconcileOnStartup(runCtx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	if err := a.mgr.ResumeAll(runCtx); err != nil {
		a.log.Warn("resume on startup incomplete", logx.Err(err))
	}
	a.mgr.Start(runCtx)

	a.supr.GoRestart("config-watch", a.cfgMgr.Watch)
	a.supr.Go("config-apply", a.applyConfigUpdates)
	a.supr.Go("fired-audit", a.auditFiredEvents)
	a.supr.Go("http", a.srv.Run)

	a.log.Info("scheduler started")
	return nil
}

// applyConfigUpdates consumes hot reloads; only the log level is live, the
// rest of the config takes effect on restart.
func (a *App) applyConfigUpdates(ctx context.Context) error {
	updates := a.cfgMgr.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			a.logSvc.Apply(cfg.Log.Level)
			a.log.Info("log level applied", logx.String("level", cfg.Log.Level))
		}
	}
}

// auditFiredEvents writes one audit line per execution event on the bus.
func (a *App) auditFiredEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	audit := a.log.With(logx.String("comp", "audit"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			audit.Info("job fired",
				logx.String("topic", ev.Topic),
				logx.Time("at", ev.Time),
				logx.Any("payload", ev.Payload))
		}
	}
}

// Stop pauses all jobs so nothing fires while the dispatcher is down, then
// drains goroutines and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}

	if err := a.mgr.PauseAll(ctx); err != nil {
		a.log.Warn("pause on shutdown incomplete", logx.Err(err))
	}

	var stopErr error
	if a.supr != nil {
		stopErr = a.supr.Stop(ctx)
	}
	a.mgr.Stop()
	if err := a.st.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	a.log.Info("scheduler stopped")
	a.logSvc.Close()
	return stopErr
}
