// Package heartbeat is the built-in liveness job: each run logs process
// health and a one-line summary of every scheduler on the host.
package heartbeat

import (
	"context"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"cronhost/internal/services/scheduler"
	logx "cronhost/pkg/logx"
)

// Name is the config key of the job.
const Name = "heartbeat"

// Snapshotter is satisfied by *scheduler.Registry.
type Snapshotter interface {
	Snapshot() []scheduler.Status
}

// Job is created fresh for every tick.
type Job struct {
	log       logx.Logger
	jobs      Snapshotter
	startedAt time.Time
}

// Factory returns the per-tick constructor. jobs may be nil.
func Factory(log logx.Logger, jobs Snapshotter, startedAt time.Time) scheduler.Factory {
	log = log.With(logx.String("comp", Name))
	return func() (scheduler.Job, error) {
		return &Job{log: log, jobs: jobs, startedAt: startedAt}, nil
	}
}

// Register adds the heartbeat job to r; its schedule comes from config.
func Register(r *scheduler.Registry, log logx.Logger) error {
	_, err := r.Register(Name, Factory(log, r, time.Now()), scheduler.Options{})
	return err
}

type summary struct {
	jobs     int
	started  int
	inFlight int
	runs     uint64
	failures uint64
	slow     uint64
}

func summarize(sts []scheduler.Status) summary {
	var s summary
	for _, st := range sts {
		s.jobs++
		if st.Started {
			s.started++
		}
		if st.InFlight {
			s.inFlight++
		}
		s.runs += st.Stats.Runs
		s.failures += st.Stats.Failures
		s.slow += st.Stats.Slow
	}
	return s
}

func (j *Job) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []logx.Field{
		logx.Duration("uptime", time.Since(j.startedAt).Truncate(time.Second)),
		logx.Int("goroutines", runtime.NumGoroutine()),
		logx.String("heap", humanize.IBytes(m.HeapAlloc)),
		logx.String("sys", humanize.IBytes(m.Sys)),
	}
	if j.jobs != nil {
		s := summarize(j.jobs.Snapshot())
		fields = append(fields,
			logx.Int("jobs", s.jobs),
			logx.Int("started", s.started),
			// The heartbeat itself is always in flight here.
			logx.Int("in_flight", s.inFlight),
			logx.Uint64("runs", s.runs),
			logx.Uint64("failures", s.failures),
			logx.Uint64("slow", s.slow),
		)
	}
	j.log.Info("heartbeat", fields...)
	return nil
}
