package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"cronhost/internal/runtime/supervisor"
)

// Registry maps job names to their schedulers. The composition root owns it
// and passes it around; exactly one scheduler exists per name.
type Registry struct {
	deps Deps

	mu     sync.RWMutex
	byName map[string]*Scheduler
	order  []string
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, byName: map[string]*Scheduler{}}
}

// Register creates the scheduler for name. opts may be bound later with
// Reconfigure, but must carry a schedule before the scheduler starts.
func (r *Registry) Register(name string, factory Factory, opts Options) (*Scheduler, error) {
	s, err := New(name, factory, opts, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, s.Name())
	}
	r.byName[s.Name()] = s
	r.order = append(r.order, s.Name())
	return s, nil
}

// RegisterJob registers J under its Go type name; each tick gets a fresh
// instance from newJob.
func RegisterJob[J Job](r *Registry, newJob func() J, opts Options) (*Scheduler, error) {
	if newJob == nil {
		return nil, errors.New("job constructor is nil")
	}
	return r.Register(TypeName[J](), func() (Job, error) { return newJob(), nil }, opts)
}

// TypeName returns the bare type name of T, dereferencing pointers.
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func (r *Registry) Get(name string) (*Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns job names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) all() []*Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scheduler, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Reconfigure forwards opts to the named scheduler.
func (r *Registry) Reconfigure(name string, opts Options) error {
	s, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.Reconfigure(opts)
}

// Start starts a single job under sup (nil keeps the registry default).
func (r *Registry) Start(ctx context.Context, name string, sup *supervisor.Supervisor) error {
	s, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.Supervise(sup)
	return s.Start(ctx)
}

// StartAll starts every registered job and stops at the first failure;
// jobs started before it are stopped again.
func (r *Registry) StartAll(ctx context.Context, sup *supervisor.Supervisor) error {
	var started []*Scheduler
	for _, s := range r.all() {
		s.Supervise(sup)
		if err := s.Start(ctx); err != nil {
			for _, st := range started {
				_ = st.Stop(ctx)
			}
			return err
		}
		started = append(started, s)
	}
	return nil
}

// StopAll stops every job, in reverse registration order.
func (r *Registry) StopAll(ctx context.Context) error {
	all := r.all()
	var errs []error
	for i := len(all) - 1; i >= 0; i-- {
		if err := all[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) DisposeAll() {
	for _, s := range r.all() {
		s.Dispose()
	}
}

// Snapshot returns the status of every job in registration order.
func (r *Registry) Snapshot() []Status {
	all := r.all()
	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	return out
}
