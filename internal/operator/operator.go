// Package operator runs a coverage-driven batch operation (seed, clean,
// or count) over every tile named by one or more coord.Coverage ranges,
// using a bounded-concurrency admission gate instead of a channel-based
// worker pool: a per-run atomic active/completed counter pair gates how
// many tile tasks run at once, with callers retrying admission every
// ~25ms while the gate is full. Per-tile failures are logged and
// swallowed so one bad tile does not abort the whole run.
package operator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/tilecachegw/internal/coord"
)

// admissionPollInterval is how often a blocked task retries for a free
// concurrency slot.
const admissionPollInterval = 25 * time.Millisecond

// Task is invoked once per tile in issue order. The returned error is
// logged and counted as a failure; it never aborts the run.
type Task func(ctx context.Context, z, x, y int) error

// Config controls the operator's concurrency and logging.
type Config struct {
	Concurrency int
	Logger      *logrus.Entry
	// Progress, if set, is incremented once per completed tile task
	// (success or failure) — the CLI's -progress flag wires a
	// ProgressBar here instead of Run reporting progress itself.
	Progress *ProgressBar
}

// Stats summarizes a completed run.
type Stats struct {
	Issued    int64
	Succeeded int64
	Failed    int64
}

// admission is the bounded-concurrency gate: active tasks plus the
// completed counter, both atomics, polled every 25ms by tasks waiting
// for a slot. This mirrors the Design Notes' explicit rejection of a
// buffered-channel semaphore in favor of a counter pair a caller can
// inspect mid-run (e.g. for progress reporting) without a select loop.
type admission struct {
	max       int64
	active    atomic.Int64
	completed atomic.Int64
}

func (a *admission) tryAcquire() bool {
	for {
		cur := a.active.Load()
		if cur >= a.max {
			return false
		}
		if a.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (a *admission) acquire(ctx context.Context) error {
	if a.tryAcquire() {
		return nil
	}
	ticker := time.NewTicker(admissionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.tryAcquire() {
				return nil
			}
		}
	}
}

func (a *admission) release() {
	a.active.Add(-1)
	a.completed.Add(1)
}

// Run walks every tile named by ranges (in z, then y, then x nested
// order) and invokes task once per tile, admitting at most cfg.Concurrency
// tasks at a time. Run blocks until every issued task has terminated —
// including after ctx is canceled, so in-flight tasks still get to
// release their slot and update Stats. A canceled context only stops
// new tiles from being issued; it does not interrupt a task already
// running (individual Task implementations should honor ctx themselves
// for that).
func Run(ctx context.Context, cfg Config, ranges []coord.TileRange, task Task) Stats {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	gate := &admission{max: int64(concurrency)}
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64
	var issued int64

	for _, r := range ranges {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				if err := gate.acquire(ctx); err != nil {
					// Context canceled while waiting for a slot: stop
					// issuing new tiles but let in-flight ones finish.
					wg.Wait()
					return Stats{Issued: issued, Succeeded: succeeded.Load(), Failed: failed.Load()}
				}
				issued++
				z, x, y := r.Z, x, y
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer gate.release()
					if cfg.Progress != nil {
						defer cfg.Progress.Increment()
					}
					if err := task(ctx, z, x, y); err != nil {
						failed.Add(1)
						log.WithFields(logrus.Fields{
							"z": z, "x": x, "y": y, "error": err,
						}).Warn("tile task failed")
						return
					}
					succeeded.Add(1)
				}()
			}
		}
	}

	wg.Wait()
	return Stats{Issued: issued, Succeeded: succeeded.Load(), Failed: failed.Load()}
}
