// Package periodic runs a unit of work on a fixed interval with an overlap
// guard: if a run is still in flight when the next tick fires, that tick is
// skipped entirely rather than queued. The deployment sweep and the command
// expiry sweep both run on this runner.
package periodic

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Task is a named periodic unit of work.
type Task struct {
	name     string
	interval time.Duration
	work     func(context.Context)
	running  atomic.Bool
}

// New creates a periodic task. The work function is invoked at most once at a
// time; overlapping ticks are dropped.
func New(name string, interval time.Duration, work func(context.Context)) *Task {
	return &Task{name: name, interval: interval, work: work}
}

// Start launches the ticker loop in its own goroutine. It stops when ctx is
// cancelled.
func (t *Task) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		log.Printf("[INFO] Periodic task %s started (interval: %v)", t.name, t.interval)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] Periodic task %s stopped", t.name)
				return
			case <-ticker.C:
				t.TryRun(ctx)
			}
		}
	}()
}

// TryRun executes the work unless a previous run is still in flight.
// Returns false when the tick was skipped.
func (t *Task) TryRun(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		log.Printf("[WARN] Periodic task %s still running, skipping tick", t.name)
		return false
	}
	defer t.running.Store(false)

	t.work(ctx)
	return true
}
