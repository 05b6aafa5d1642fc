package eventbus

import (
	"testing"
)

func TestSubscribePrefixFilters(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sched, unsubSched := b.SubscribePrefix("scheduler.", 4)
	defer unsubSched()

	b.Publish(Event{Type: "job.started"})
	b.Publish(Event{Type: "scheduler.reconfigured"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(sched); got != 1 {
		t.Fatalf("prefix subscriber got %d events, want 1", got)
	}
	e := <-sched
	if e.Type != "scheduler.reconfigured" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "job.completed"})
	}
	if got := Dropped(b); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: "job.failed"})
}
