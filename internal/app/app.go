// Package app wires config, logging, storage, the chat adapter and the
// dispatch/tracking services into one runnable process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dispatchbot/internal/bot"
	"dispatchbot/internal/config"
	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/metrics"
	"dispatchbot/internal/observability/ops"
	"dispatchbot/internal/observability/tracing"
	"dispatchbot/internal/registry"
	"dispatchbot/internal/router"
	"dispatchbot/internal/runtime/supervisor"
	"dispatchbot/internal/storage"
	"dispatchbot/internal/task/scheduler"
	"dispatchbot/internal/tracking"
	kit "dispatchbot/internal/transport"
	logx "dispatchbot/pkg/logx"
)

// syncJob is the scheduler name of the project reconciliation sweep.
const syncJob = "projects.sync"

type App struct {
	version string
	cfgm    *config.ConfigManager

	sup  *supervisor.Supervisor
	sups *supervisor.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter  kit.Adapter
	router   *router.Router
	registry *registry.Service
	metrics  *metrics.Metrics
	ops      *ops.Server
	sched    *scheduler.Service

	traceShutdown tracing.ShutdownFunc

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	durs, err := config.ParseDurations(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", cfg.Platform))
	ad, err := newAdapter(cfg, durs, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), ad)

	store, err := storage.Open(ctx, storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: durs.BusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	sups := supervisor.NewRegistry()

	dispatchSvc := dispatch.New(store, ad, bus, dispatch.Options{
		MaxContent: cfg.Dispatch.MaxContent,
		Parallel:   cfg.Dispatch.Parallel,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, log.With(logx.String("comp", "dispatch")))
	trackingSvc := tracking.New(store, bus, log.With(logx.String("comp", "tracking")))
	registrySvc := registry.New(store, ad, bus, log.With(logx.String("comp", "registry")))

	handlers := bot.New(dispatchSvc, trackingSvc, registrySvc, log.With(logx.String("comp", "bot")))
	r := router.New(log.With(logx.String("comp", "router")), ad, sups, router.Options{
		Prefix:    cfg.Commands.Prefix,
		Operators: cfg.Commands.OperatorIDs,
		Workers:   cfg.Commands.Workers,
		QueueSize: cfg.Commands.QueueSize,
		Timeout:   durs.CommandTimeout,
	})
	r.SetCommands(handlers.Commands())
	r.OnReply(handlers.HandleReply, durs.CommandTimeout)

	a := &App{
		version:  version,
		cfgm:     cfgm,
		sups:     sups,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   r,
		registry: registrySvc,
		metrics:  metrics.New(),
		sched:    scheduler.New(scheduler.Config{Timezone: cfg.Sync.Timezone}, log.With(logx.String("comp", "scheduler"))),
		updates:  make(chan kit.Update, 256),
	}
	if cfg.Ops.Enabled {
		a.ops = ops.New(opsConfig(cfg, durs), a.metrics.Registry(), a.health, log.With(logx.String("comp", "ops")))
	}
	return a, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.ValidateHook)

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(ctx, cfg.Tracing, a.version)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		a.traceShutdown = shutdown
		a.log.Info("tracing enabled", logx.String("endpoint", cfg.Tracing.Endpoint))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.GoRestart("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.log.With(logx.String("comp", "metrics")))
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if a.ops != nil {
		a.sup.GoRestart("ops", a.ops.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute),
			supervisor.WithPublishFirstError(true),
		)
	}

	a.scheduleSync(cfg)
	a.sched.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("platform", cfg.Platform),
		logx.String("version", a.version),
		logx.String("prefix", cfg.Commands.Prefix),
	)
	return nil
}

// scheduleSync registers, replaces or removes the sync sweep for cfg.
func (a *App) scheduleSync(cfg *config.Config) {
	if !cfg.Sync.Enabled {
		if a.sched.Remove(syncJob) {
			a.log.Info("project sync disabled")
		}
		return
	}
	durs, err := config.ParseDurations(cfg)
	if err != nil {
		a.log.Warn("invalid sync timeout; keeping previous schedule", logx.Err(err))
		return
	}
	if err := a.sched.Add(syncJob, cfg.Sync.Schedule, durs.SyncTimeout, a.registry.SyncAll); err != nil {
		a.log.Warn("project sync not scheduled", logx.String("spec", cfg.Sync.Schedule), logx.Err(err))
		return
	}
	a.log.Info("project sync scheduled", logx.String("spec", cfg.Sync.Schedule))
}

// health backs /healthz. Keys name the failing component.
func (a *App) health(ctx context.Context) map[string]string {
	problems := map[string]string{}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.Ping(pctx); err != nil {
		problems["storage"] = err.Error()
	}
	if a.adapter.SelfID() == "" {
		problems[a.adapter.Name()] = "not connected"
	}
	for _, name := range a.sups.Failing() {
		problems["supervisor."+name] = a.sups.Snapshots()[name].FirstError
	}
	for _, j := range a.sched.Snapshot() {
		if j.LastErr != "" {
			problems["schedule."+j.Name] = j.LastErr
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(logConfig(newCfg))
	a.router.SetAccess(newCfg.Commands.Prefix, newCfg.Commands.OperatorIDs)
	a.sched.Apply(scheduler.Config{Timezone: newCfg.Sync.Timezone})
	a.scheduleSync(newCfg)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
