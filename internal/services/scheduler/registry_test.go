package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cronhost/internal/eventbus"
	"cronhost/internal/runtime/supervisor"
	logx "cronhost/pkg/logx"
)

type pingJob struct{}

func (*pingJob) Execute(context.Context) error { return nil }

type reportJob struct{}

func (reportJob) Execute(context.Context) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithCancelOnError(true))
	r := NewRegistry(Deps{Log: logx.Nop(), Bus: eventbus.New()})
	t.Cleanup(func() {
		r.DisposeAll()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return r, sup
}

func TestRegisterJobNamesByType(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	if _, err := RegisterJob(r, func() *pingJob { return &pingJob{} }, everyOpts(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := RegisterJob(r, func() reportJob { return reportJob{} }, everyOpts(time.Second)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pingJob", "reportJob"}, r.Names()); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}
	if _, err := RegisterJob(r, func() *pingJob { return &pingJob{} }, everyOpts(time.Second)); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate RegisterJob = %v, want ErrDuplicateJob", err)
	}
}

func TestRegistryUnknownJob(t *testing.T) {
	t.Parallel()
	r, sup := newTestRegistry(t)
	if err := r.Reconfigure("missing", everyOpts(time.Second)); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("Reconfigure(missing) = %v", err)
	}
	if err := r.Start(context.Background(), "missing", sup); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("Start(missing) = %v", err)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get(missing) found a scheduler")
	}
}

func TestStartAllRollsBackOnMissingSchedule(t *testing.T) {
	t.Parallel()
	r, sup := newTestRegistry(t)
	noop := FuncFactory(func(context.Context) error { return nil })
	if _, err := r.Register("a", noop, everyOpts(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("b", noop, Options{}); err != nil {
		t.Fatal(err)
	}
	err := r.StartAll(context.Background(), sup)
	if !errors.Is(err, ErrScheduleMissing) {
		t.Fatalf("StartAll = %v, want ErrScheduleMissing", err)
	}
	for _, st := range r.Snapshot() {
		if st.Started || st.Armed {
			t.Fatalf("%s left running after failed StartAll", st.Name)
		}
	}
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()
	r, sup := newTestRegistry(t)
	var a, b atomic.Int32
	_, _ = r.Register("a", FuncFactory(func(context.Context) error { a.Add(1); return nil }), everyOpts(20*time.Millisecond))
	_, _ = r.Register("b", FuncFactory(func(context.Context) error { b.Add(1); return nil }), Options{})

	// Bind b's schedule after registration, as the host does from config.
	if err := r.Reconfigure("b", everyOpts(20*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAll(context.Background(), sup); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "both jobs running", func() bool { return a.Load() >= 2 && b.Load() >= 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.StopAll(ctx); err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, st := range r.Snapshot() {
		got[st.Name] = st.Started
	}
	if diff := cmp.Diff(map[string]bool{"a": false, "b": false}, got); diff != "" {
		t.Fatalf("started after StopAll (-want +got):\n%s", diff)
	}
}

func TestTypeName(t *testing.T) {
	t.Parallel()
	if got := TypeName[**pingJob](); got != "pingJob" {
		t.Fatalf("TypeName[**pingJob] = %q", got)
	}
}
