package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"cronhost/internal/schedule"
)

// ParsedJob is a JobConfig resolved against the scheduler section.
type ParsedJob struct {
	Name                 string
	Enabled              bool
	Expr                 string
	Schedule             schedule.Schedule
	SlowWarningThreshold time.Duration
}

// ParseJob resolves one job entry. Disabled jobs are still parsed when they
// carry a schedule so typos surface before the job is switched on.
func ParseJob(sc SchedulerConfig, name string, jc JobConfig) (ParsedJob, error) {
	path := "jobs." + name
	out := ParsedJob{Name: name, Enabled: jc.Enabled, Expr: strings.TrimSpace(jc.Schedule)}

	th, err := ParseThreshold(path+".slow_warning_threshold", jc.SlowWarningThreshold)
	if err != nil {
		return out, err
	}
	out.SlowWarningThreshold = th

	if out.Expr == "" {
		if jc.Enabled {
			return out, fmt.Errorf("%s.schedule: required for an enabled job", path)
		}
		return out, nil
	}
	loc, err := LoadLocation("scheduler.timezone", sc.Timezone)
	if err != nil {
		return out, err
	}
	s, err := schedule.Parse(out.Expr, schedule.ParseOptions{Engine: sc.Engine, Location: loc})
	if err != nil {
		return out, fmt.Errorf("%s.schedule: %w", path, err)
	}
	out.Schedule = s
	return out, nil
}

// Validate checks everything that can be checked without touching the
// outside world. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	schedOK := true
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Engine)) {
	case "", schedule.EngineRobfig, schedule.EngineGronx:
	default:
		errs = append(errs, fmt.Errorf("scheduler.engine: unknown engine %q (want robfig or gronx)", cfg.Scheduler.Engine))
		schedOK = false
	}
	if _, err := LoadLocation("scheduler.timezone", cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
		schedOK = false
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if lt := cfg.Logging.Telegram; lt.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("logging.telegram: enabled but telegram.token is empty"))
		}
		if _, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", cfg.Telegram.GroupLog))
		}
	}

	if d := cfg.Debug; d.Enabled {
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("debug.addr: %w", err))
			}
		}
		if _, err := ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	// Job schedules depend on engine and timezone.
	if schedOK {
		names := make([]string, 0, len(cfg.Jobs))
		for name := range cfg.Jobs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := ParseJob(cfg.Scheduler, name, cfg.Jobs[name]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
