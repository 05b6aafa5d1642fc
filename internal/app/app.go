// Package app is the composition root of cronhost: it loads the config,
// binds job entries to registered schedulers, and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"cronhost/internal/config"
	"cronhost/internal/eventbus"
	"cronhost/internal/observability/debugsrv"
	"cronhost/internal/runtime/supervisor"
	"cronhost/internal/services/scheduler"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	jobs  *scheduler.Registry
	debug *debugsrv.Service

	stopAudit func()
	sdNotify  bool
	stopped   atomic.Bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	sender, err := mapAlertSender(cfg)
	if err != nil {
		return nil, err
	}
	logSvc, root := logx.New(mapLoggingConfig(cfg), sender)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	jobs := scheduler.NewRegistry(scheduler.Deps{
		Log: root.With(logx.String("comp", "scheduler")),
		Bus: bus,
	})

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		jobs:     jobs,
		sdNotify: cfg.Systemd.Notify,
	}
	dc, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.debug = debugsrv.New(dc, jobs, a.Err, root.With(logx.String("comp", "debug")))
	return a, nil
}

// Jobs is the registry jobs must be added to before Start.
func (a *App) Jobs() *scheduler.Registry { return a.jobs }

// Logger is the root logger; jobs should derive theirs from it.
func (a *App) Logger() logx.Logger { return a.logs.Logger() }

// Bus exposes lifecycle and execution events.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app run context ends, including after a scheduler
// defect.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(a.validateConfig)
	cfg := a.cfgm.Get()
	if err := a.validateConfig(ctx, cfg); err != nil {
		return err
	}

	if a.store != nil {
		a.logLastAudit(ctx)
		a.startAudit()
	}

	enabled, err := a.bindJobs(cfg)
	if err != nil {
		return err
	}
	for _, name := range enabled {
		if err := a.jobs.Start(a.sup.Context(), name, a.sup); err != nil {
			_ = a.jobs.StopAll(ctx)
			return err
		}
	}

	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	a.startReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	a.startWatchdog()
	a.notifySystemd(sdReady)

	a.log.Info("app started",
		logx.Int("jobs", len(a.jobs.Names())),
		logx.Int("enabled", len(enabled)),
	)
	return nil
}

// validateConfig extends config.Validate with what only the host knows:
// every registered job needs an entry.
func (a *App) validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	for _, name := range a.jobs.Names() {
		if _, ok := cfg.Jobs[name]; !ok {
			errs = append(errs, fmt.Errorf("jobs.%s: registered job has no config entry", name))
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// bindJobs hands each registered job its options and returns the names of
// the enabled ones.
func (a *App) bindJobs(cfg *config.Config) ([]string, error) {
	var enabled []string
	for _, name := range a.jobs.Names() {
		pj, err := config.ParseJob(cfg.Scheduler, name, cfg.Jobs[name])
		if err != nil {
			return nil, err
		}
		if !pj.Enabled {
			a.log.Info("job disabled", logx.String("job", name))
			continue
		}
		if err := a.jobs.Reconfigure(name, mapJobOptions(pj)); err != nil {
			return nil, err
		}
		enabled = append(enabled, name)
	}
	a.warnUnregistered(cfg)
	return enabled, nil
}

func (a *App) warnUnregistered(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		if _, ok := a.jobs.Get(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		a.log.Warn("config entry has no registered job; ignoring", logx.String("job", name))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil || !a.stopped.CompareAndSwap(false, true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(sdStopping)

	// Cancel the run context first: running jobs see ctx.Done and no new
	// tick is dispatched.
	a.sup.Cancel()

	a.step(ctx, "jobs", 5*time.Second, func(c context.Context) error { return a.jobs.StopAll(c) })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "dispose", time.Second, func(context.Context) error { a.jobs.DisposeAll(); return nil })
	if a.stopAudit != nil {
		a.stopAudit()
	}

	// Wait for supervised goroutines (ticks, config watch/reload, audit writer).
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a single component
// cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
