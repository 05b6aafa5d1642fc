package scheduler

import (
	"sync"
	"time"
)

// timer is a cancellable one-shot alarm with at most one pending fire.
//
// States: idle -> armed -> (fire) idle; armed -> (Disarm) idle; any -> disposed.
// Every Arm/Disarm bumps gen, so a time.Timer whose Stop lost the race to an
// already-running callback is ignored instead of firing twice.
type timer struct {
	fire func()

	mu       sync.Mutex
	t        *time.Timer
	gen      uint64
	armed    bool
	disposed bool
}

func newTimer(fire func()) *timer {
	return &timer{fire: fire}
}

// Arm cancels any pending fire and schedules a new one after d.
// A zero delay still fires on another goroutine, never inline.
func (t *timer) Arm(d time.Duration) error {
	if d < 0 {
		return ErrNegativeDelay
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrTimerDisposed
	}
	t.stopLocked()
	gen := t.gen
	t.armed = true
	t.t = time.AfterFunc(d, func() { t.onFire(gen) })
	return nil
}

// Disarm cancels the pending fire, if any. Safe to call repeatedly.
func (t *timer) Disarm() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

// Dispose disarms the timer for good; later Arm calls fail.
func (t *timer) Dispose() {
	t.mu.Lock()
	t.stopLocked()
	t.disposed = true
	t.mu.Unlock()
}

func (t *timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *timer) stopLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	t.armed = false
}

func (t *timer) onFire(gen uint64) {
	t.mu.Lock()
	if t.disposed || gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.t = nil
	t.mu.Unlock()

	t.fire()
}
