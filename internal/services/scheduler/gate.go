package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate is a single-permit, non-reentrant execution gate.
//
// queued admits at most one waiter: a tick that arrives while another tick
// is already waiting for the permit is coalesced instead of queued.
type gate struct {
	sem    *semaphore.Weighted
	held   atomic.Bool
	queued atomic.Bool
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the permit is free or ctx is done.
func (g *gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.held.Store(true)
	return nil
}

func (g *gate) Release() {
	g.held.Store(false)
	g.sem.Release(1)
}

// Enter is Acquire with coalescing. It returns false, without waiting, when
// another caller is already queued for the permit.
func (g *gate) Enter(ctx context.Context) (bool, error) {
	if !g.queued.CompareAndSwap(false, true) {
		return false, nil
	}
	err := g.Acquire(ctx)
	g.queued.Store(false)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *gate) InFlight() bool { return g.held.Load() }

func (g *gate) Queued() bool { return g.queued.Load() }
