package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"cronhost/internal/config"
	logx "cronhost/pkg/logx"
)

// startReload fans committed configs out to logging and the schedulers.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	// Baseline must be taken with the subscription; a commit that lands
	// before the goroutine runs would otherwise diff against itself.
	lastApplied := a.cfgm.Get()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobNames := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range []string{"storage", "systemd"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if slices.Contains(sections, "logging") || slices.Contains(sections, "telegram") {
		a.applyLogging(newCfg)
	}
	if slices.Contains(sections, "debug") {
		if dc, err := mapDebugConfig(newCfg); err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(ctx, dc)
		}
	}
	if len(jobNames) > 0 {
		a.log.Debug("job config changes detected", logx.Any("jobs", jobNames))
		a.applyJobs(ctx, newCfg, jobNames)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) applyLogging(cfg *config.Config) {
	sender, err := mapAlertSender(cfg)
	if err != nil {
		a.log.Warn("invalid telegram alert config; keeping previous sender", logx.Err(err))
	} else {
		a.logs.SetSender(sender)
	}
	a.logs.Apply(mapLoggingConfig(cfg))
}

// applyJobs reconfigures the named jobs live. A job switched off is stopped
// and one switched on is started; the rest only get new options.
func (a *App) applyJobs(ctx context.Context, cfg *config.Config, names []string) {
	for _, name := range names {
		s, ok := a.jobs.Get(name)
		if !ok {
			if _, inCfg := cfg.Jobs[name]; inCfg {
				a.log.Warn("config entry has no registered job; ignoring", logx.String("job", name))
			}
			continue
		}
		pj, err := config.ParseJob(cfg.Scheduler, name, cfg.Jobs[name])
		if err != nil {
			a.log.Warn("invalid job config; keeping previous", logx.String("job", name), logx.Err(err))
			continue
		}

		started := s.Snapshot().Started
		if !pj.Enabled {
			if started {
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if err := s.Stop(stopCtx); err != nil {
					a.log.Warn("job stop failed", logx.String("job", name), logx.Err(err))
				}
				cancel()
				a.log.Info("job disabled via config", logx.String("job", name))
			}
			continue
		}

		if err := s.Reconfigure(mapJobOptions(pj)); err != nil {
			a.log.Error("job reconfigure failed", logx.String("job", name), logx.Err(err))
			continue
		}
		if !started {
			if err := a.jobs.Start(ctx, name, a.sup); err != nil {
				a.log.Error("job start failed", logx.String("job", name), logx.Err(err))
				continue
			}
			a.log.Info("job enabled via config", logx.String("job", name))
		}
	}
}
