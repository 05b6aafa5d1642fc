package scheduler

import (
	"time"

	"cronhost/internal/eventbus"
)

// Event types published on the bus.
const (
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobSlow      = "job.slow"
	EventJobCoalesced = "job.coalesced"

	EventTimerArmed   = "timer.armed"
	EventTimerStopped = "timer.stopped"

	EventSchedulerStarted      = "scheduler.started"
	EventSchedulerReconfigured = "scheduler.reconfigured"
	EventSchedulerStopped      = "scheduler.stopped"
	EventSchedulerFatal        = "scheduler.fatal"
)

// ExecutionEvent is the payload of job.* events.
type ExecutionEvent struct {
	ExecutionID string
	Job         string
	StartedAt   time.Time
	Elapsed     time.Duration
	Threshold   time.Duration
	Error       string
}

// TimerEvent is the payload of timer.* events.
type TimerEvent struct {
	Job   string
	Delay time.Duration
	Next  time.Time
}

// LifecycleEvent is the payload of scheduler.* events.
type LifecycleEvent struct {
	Job       string
	Expr      string
	Threshold time.Duration
	Error     string
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
