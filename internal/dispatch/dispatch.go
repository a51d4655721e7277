/**
 * Bounded dispatcher
 *
 * Caps the number of engine invocations in flight across the whole process.
 * Inference is the expensive stage of every request; the HTTP layer accepts
 * freely and this gate provides the backpressure.
 */

package dispatch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Dispatcher serializes access to a fixed number of engine slots.
type Dispatcher struct {
	sem     *semaphore.Weighted
	workers int
}

// New creates a Dispatcher with the given number of slots. Values below 1
// are clamped to 1.
func New(workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}
}

// Do runs fn while holding a slot. It blocks until a slot is free or the
// context is done; a context error is returned without running fn.
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)
	return fn()
}

// Workers reports the configured slot count.
func (d *Dispatcher) Workers() int {
	return d.workers
}
