package scheduler

import (
	"context"
	"fmt"
	"time"

	"cronhost/internal/schedule"
)

// Job is one unit of work. A fresh instance is built for every tick and
// Execute is never called concurrently for the same job name.
//
// Jobs that also implement io.Closer are closed after the run.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a plain function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// Factory builds the job instance for one invocation.
type Factory func() (Job, error)

// FuncFactory returns a factory that always hands out fn.
func FuncFactory(fn func(ctx context.Context) error) Factory {
	return func() (Job, error) { return JobFunc(fn), nil }
}

// Options is the per-job schedule configuration. It is immutable once handed
// to a Scheduler; Reconfigure replaces it as a whole.
type Options struct {
	Expr                 string
	Schedule             schedule.Schedule
	SlowWarningThreshold time.Duration // 0 disables
}

func (o Options) validate() error {
	if o.SlowWarningThreshold < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidThreshold, o.SlowWarningThreshold)
	}
	return nil
}

// validateArmed also requires a schedule; used where the timer will be armed.
func (o Options) validateArmed() error {
	if o.Schedule == nil {
		return ErrScheduleMissing
	}
	return o.validate()
}

func (o Options) expr() string {
	if o.Expr != "" {
		return o.Expr
	}
	return schedule.String(o.Schedule)
}
