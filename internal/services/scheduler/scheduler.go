package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cronhost/internal/eventbus"
	"cronhost/internal/runtime/supervisor"
	"cronhost/internal/schedule"
	logx "cronhost/pkg/logx"
)

// Deps are the collaborators shared by every scheduler of a host.
type Deps struct {
	Log logx.Logger
	Bus eventbus.Bus
	// Supervisor runs tick goroutines and receives scheduler defects.
	// When nil, Start creates one from its context with cancel-on-error.
	Supervisor *supervisor.Supervisor
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats are best-effort counters, not a synchronization primitive.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Runs      uint64 `json:"runs"`
	Failures  uint64 `json:"failures"`
	Slow      uint64 `json:"slow"`
	Coalesced uint64 `json:"coalesced"`
}

// Status is a point-in-time view of one scheduler.
type Status struct {
	Name      string        `json:"name"`
	Expr      string        `json:"expr"`
	Threshold time.Duration `json:"threshold"`
	Started   bool          `json:"started"`
	Armed     bool          `json:"armed"`
	InFlight  bool          `json:"in_flight"`
	Next      time.Time     `json:"next"`
	Stats     Stats         `json:"stats"`
}

// Scheduler runs one job on its schedule, never overlapping with itself.
type Scheduler struct {
	name    string
	factory Factory
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	opts  atomic.Pointer[Options]
	timer *timer
	gate  *gate

	mu       sync.Mutex
	sup      *supervisor.Supervisor
	ownSup   bool
	started  bool
	disposed bool
	next     time.Time

	ticks     atomic.Uint64
	runs      atomic.Uint64
	failures  atomic.Uint64
	slow      atomic.Uint64
	coalesced atomic.Uint64
}

// New builds a stopped scheduler. opts may omit the schedule as long as one
// is supplied through Reconfigure before Start.
func New(name string, factory Factory, opts Options, deps Deps) (*Scheduler, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("job name is empty")
	}
	if factory == nil {
		return nil, fmt.Errorf("job %s: factory is nil", name)
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		name:    name,
		factory: factory,
		log:     deps.Log.With(logx.String("job", name)),
		bus:     deps.Bus,
		now:     now,
		gate:    newGate(),
		sup:     deps.Supervisor,
	}
	s.timer = newTimer(s.onFire)
	o := opts
	s.opts.Store(&o)
	return s, nil
}

func (s *Scheduler) Name() string { return s.name }

// Options returns the current snapshot.
func (s *Scheduler) Options() Options { return *s.opts.Load() }

// Supervise sets the supervisor used from the next Start on.
func (s *Scheduler) Supervise(sup *supervisor.Supervisor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || sup == nil {
		return
	}
	if s.ownSup && s.sup != nil {
		s.sup.Cancel()
	}
	s.sup, s.ownSup = sup, false
}

// Start arms the timer for the first occurrence after now.
// It fails, without arming, when the current options have no schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.started {
		return nil
	}
	o := s.opts.Load()
	if err := o.validateArmed(); err != nil {
		return fmt.Errorf("job %s: %w", s.name, err)
	}
	if s.sup == nil {
		s.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(true))
		s.ownSup = true
	}

	s.started = true
	if err := s.armLocked(o); err != nil {
		s.started = false
		return fmt.Errorf("job %s: %w", s.name, err)
	}
	s.log.Info("scheduler started", logx.String("expr", o.expr()), logx.Duration("slow_threshold", o.SlowWarningThreshold))
	s.publish(EventSchedulerStarted, s.lifecycle(o, nil))
	return nil
}

// Reconfigure swaps the options snapshot and, when started, rearms at once
// with the new schedule. A run already executing is not interrupted.
func (s *Scheduler) Reconfigure(opts Options) error {
	if err := opts.validateArmed(); err != nil {
		return fmt.Errorf("job %s: %w", s.name, err)
	}
	o := opts

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	prev := s.opts.Swap(&o)
	s.log.Info("schedule reconfigured",
		logx.String("old_expr", prev.expr()),
		logx.String("expr", o.expr()),
		logx.Duration("slow_threshold", o.SlowWarningThreshold),
	)
	s.publish(EventSchedulerReconfigured, s.lifecycle(&o, nil))
	if !s.started {
		return nil
	}
	if err := s.armLocked(&o); err != nil {
		derr := s.defect("rearm", err)
		if s.sup != nil {
			s.sup.Fail(derr)
		}
		return derr
	}
	return nil
}

// Stop disarms the timer. It does not cancel a running job; it waits for it
// until ctx is done. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.timer.Disarm()
	s.next = time.Time{}
	s.mu.Unlock()

	s.log.Info("timer stopped")
	s.publish(EventTimerStopped, TimerEvent{Job: s.name})
	s.publish(EventSchedulerStopped, s.lifecycle(s.opts.Load(), nil))

	// A queued tick sees started=false once it gets the permit and leaves.
	if err := s.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("job %s: run still in flight: %w", s.name, err)
	}
	s.gate.Release()
	return nil
}

// Dispose releases the timer. It is terminal and safe without Start.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.started = false
	s.next = time.Time{}
	s.timer.Dispose()
	if s.ownSup && s.sup != nil {
		s.sup.Cancel()
	}
}

// Err returns the first defect seen by a supervisor this scheduler created.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return nil
	}
	return s.sup.Err()
}

func (s *Scheduler) Snapshot() Status {
	o := s.opts.Load()
	s.mu.Lock()
	started, next := s.started, s.next
	s.mu.Unlock()
	return Status{
		Name:      s.name,
		Expr:      o.expr(),
		Threshold: o.SlowWarningThreshold,
		Started:   started,
		Armed:     s.timer.Armed(),
		InFlight:  s.gate.InFlight(),
		Next:      next,
		Stats: Stats{
			Ticks:     s.ticks.Load(),
			Runs:      s.runs.Load(),
			Failures:  s.failures.Load(),
			Slow:      s.slow.Load(),
			Coalesced: s.coalesced.Load(),
		},
	}
}

// onFire runs on the timer goroutine; the tick itself is supervised.
func (s *Scheduler) onFire() {
	s.mu.Lock()
	sup, started := s.sup, s.started
	if started && sup != nil && sup.Context().Err() != nil && s.ownSup {
		// Nothing will rearm once the owned supervisor is gone.
		s.started = false
		s.next = time.Time{}
		started = false
		s.log.Debug("supervisor done; scheduler stopped", logx.Err(sup.Context().Err()))
	}
	s.mu.Unlock()
	if !started || sup == nil || sup.Context().Err() != nil {
		return
	}
	sup.Go("job."+s.name+".tick", s.tick)
}

func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.defect("tick", fmt.Errorf("panic: %v", r))
		}
	}()
	s.ticks.Add(1)

	// Rearm before executing so a hung job never stalls the schedule.
	armed, err := s.rearm()
	if err != nil {
		return s.defect("rearm", err)
	}
	if !armed {
		return nil
	}

	ok, err := s.gate.Enter(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.defect("acquire", err)
	}
	if !ok {
		s.coalesced.Add(1)
		s.log.Debug("tick coalesced, a run is already waiting")
		s.publish(EventJobCoalesced, TimerEvent{Job: s.name})
		return nil
	}
	defer s.gate.Release()

	if ctx.Err() != nil || !s.isStarted() {
		return nil
	}
	s.invoke(ctx)
	return nil
}

func (s *Scheduler) rearm() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false, nil
	}
	return true, s.armLocked(s.opts.Load())
}

func (s *Scheduler) armLocked(o *Options) error {
	now := s.now()
	d, err := schedule.Delay(o.Schedule, now)
	if err != nil {
		return err
	}
	if err := s.timer.Arm(d); err != nil {
		return err
	}
	s.next = now.Add(d)
	s.log.Debug("timer started", logx.Duration("delay", d), logx.Time("next", s.next))
	s.publish(EventTimerArmed, TimerEvent{Job: s.name, Delay: d, Next: s.next})
	return nil
}

func (s *Scheduler) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// defect logs and publishes a scheduler-fatal condition and returns it for
// propagation.
func (s *Scheduler) defect(op string, err error) error {
	d := &DefectError{Job: s.name, Op: op, Err: err}
	s.log.Critical("unhandled error on timer", logx.String("op", op), logx.Err(err))
	s.publish(EventSchedulerFatal, s.lifecycle(s.opts.Load(), d))
	return d
}

func (s *Scheduler) lifecycle(o *Options, err error) LifecycleEvent {
	ev := LifecycleEvent{Job: s.name}
	if o != nil {
		ev.Expr = o.expr()
		ev.Threshold = o.SlowWarningThreshold
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
