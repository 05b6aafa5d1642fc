package scheduler

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	logx "cronhost/pkg/logx"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeFailed {
		return "failed"
	}
	return "success"
}

// Record describes one invocation. It is never persisted.
type Record struct {
	ExecutionID string
	Job         string
	StartedAt   time.Time
	Elapsed     time.Duration
	Outcome     Outcome
	Err         error
}

// invoke runs one job instance and reports its outcome. Job failures end
// here; nothing is returned to the tick path.
func (s *Scheduler) invoke(ctx context.Context) Record {
	// One snapshot per tick: a concurrent Reconfigure affects the next run.
	o := s.opts.Load()

	rec := Record{ExecutionID: uuid.NewString(), Job: s.name}
	log := s.log.With(logx.String("execution_id", rec.ExecutionID))
	s.runs.Add(1)
	log.Info("execution started")
	s.publish(EventJobStarted, s.execEvent(rec, 0))

	rec.StartedAt, rec.Elapsed, rec.Err = s.run(ctx, log)

	if rec.Err != nil {
		rec.Outcome = OutcomeFailed
		s.failures.Add(1)
		fields := []logx.Field{logx.Duration("elapsed", rec.Elapsed), logx.Err(rec.Err)}
		if pe, ok := rec.Err.(*PanicError); ok {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		log.Error("execution failed", fields...)
		s.publish(EventJobFailed, s.execEvent(rec, 0))
	}
	log.Info("execution completed", logx.Duration("elapsed", rec.Elapsed), logx.String("outcome", rec.Outcome.String()))
	s.publish(EventJobCompleted, s.execEvent(rec, 0))

	if th := o.SlowWarningThreshold; th > 0 && rec.Elapsed > th {
		s.slow.Add(1)
		log.Warn("slow execution", logx.Duration("elapsed", rec.Elapsed), logx.Duration("threshold", th))
		s.publish(EventJobSlow, s.execEvent(rec, th))
	}
	return rec
}

// run builds the job and times Execute only. Construction failures and
// panics are reported as job errors.
func (s *Scheduler) run(ctx context.Context, log logx.Logger) (startedAt time.Time, elapsed time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	job, err := s.factory()
	if err != nil {
		return s.now(), 0, fmt.Errorf("create job: %w", err)
	}
	if job == nil {
		return s.now(), 0, ErrNilJob
	}
	if c, ok := job.(io.Closer); ok {
		defer func() {
			if cerr := c.Close(); cerr != nil {
				log.Warn("job close failed", logx.Err(cerr))
			}
		}()
	}

	startedAt = s.now()
	began := time.Now()
	// Runs before Close, also while panicking.
	defer func() { elapsed = time.Since(began) }()
	err = job.Execute(ctx)
	return startedAt, elapsed, err
}

func (s *Scheduler) execEvent(rec Record, threshold time.Duration) ExecutionEvent {
	ev := ExecutionEvent{
		ExecutionID: rec.ExecutionID,
		Job:         rec.Job,
		StartedAt:   rec.StartedAt,
		Elapsed:     rec.Elapsed,
		Threshold:   threshold,
	}
	if rec.Err != nil {
		ev.Error = rec.Err.Error()
	}
	return ev
}
