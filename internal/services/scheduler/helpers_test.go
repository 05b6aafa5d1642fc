package scheduler

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cronhost/internal/eventbus"
	"cronhost/internal/runtime/supervisor"
	logx "cronhost/pkg/logx"
)

// every is a fixed-interval schedule measured from the query instant.
type every time.Duration

func (e every) Next(from time.Time) time.Time { return from.Add(time.Duration(e)) }

func (e every) String() string { return "every " + time.Duration(e).String() }

func everyOpts(d time.Duration) Options { return Options{Schedule: every(d)} }

// onceThenNever yields one occurrence and then reports exhaustion.
type onceThenNever struct {
	d     time.Duration
	calls atomic.Int32
}

func (o *onceThenNever) Next(from time.Time) time.Time {
	if o.calls.Add(1) > 1 {
		return time.Time{}
	}
	return from.Add(o.d)
}

type collector struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func collect(t *testing.T, bus eventbus.Bus) *collector {
	t.Helper()
	ch, unsub := bus.Subscribe(4096)
	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		unsub()
		<-done
	})
	return c
}

func (c *collector) count(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (c *collector) first(typ string) (eventbus.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Type == typ {
			return e, true
		}
	}
	return eventbus.Event{}, false
}

type harness struct {
	s   *Scheduler
	sup *supervisor.Supervisor
	bus eventbus.Bus
	ev  *collector
}

func newHarness(t *testing.T, factory Factory, opts Options) *harness {
	t.Helper()
	return newHarnessWithLog(t, factory, opts, logx.Nop())
}

func newHarnessWithLog(t *testing.T, factory Factory, opts Options, log logx.Logger) *harness {
	t.Helper()
	bus := eventbus.New()
	ev := collect(t, bus)
	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithCancelOnError(true))
	s, err := New("probe", factory, opts, Deps{Log: log, Bus: bus, Supervisor: sup})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		s.Dispose()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return &harness{s: s, sup: sup, bus: bus, ev: ev}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// concurrency tracks how many invocations overlap.
type concurrency struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (c *concurrency) enter() {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (c *concurrency) exit() { c.active.Add(-1) }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.b.Bytes()...)
}
