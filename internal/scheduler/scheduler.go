// Package scheduler drives Holmes's fixpoint saturation: an explicit FIFO
// work queue of rule activations, deduplicated so a rule pending to fire
// is never enqueued twice, drained by Quiesce until empty or a deadline
// expires.
//
// Grounded on the teacher's internal/mangle RecomputeRules progress-ticker
// pattern (a long-running drive loop that logs progress on an interval
// rather than per-item), generalized from "recompute everything" to
// "drain an explicit queue of individual rule activations" per spec
// section 4.6's "explicit queue preferred; simpler to reason about,
// required for bounded call depth."
package scheduler

import (
	"context"
	"time"

	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/logging"
)

// RuleID identifies a registered rule for activation purposes. The engine
// assigns these; the scheduler treats them as opaque dedup keys.
type RuleID int

// RunFunc executes one rule activation. The scheduler holds no lock while
// calling it, so it may itself call Enqueue.
type RunFunc func(ctx context.Context, id RuleID) error

// Scheduler is an explicit, deduplicated FIFO queue of rule activations.
type Scheduler struct {
	run      RunFunc
	deadline time.Duration

	queue  []RuleID
	queued map[RuleID]bool
}

// New builds a Scheduler that invokes run for each drained activation.
func New(run RunFunc) *Scheduler {
	return &Scheduler{
		run:    run,
		queued: make(map[RuleID]bool),
	}
}

// SetDeadline installs a wall-clock budget for future Quiesce calls. Zero
// means no deadline (the default).
func (s *Scheduler) SetDeadline(d time.Duration) {
	s.deadline = d
}

// Enqueue schedules id for activation if it is not already pending. Safe
// to call from within a RunFunc (that is how cascading derivations
// re-trigger downstream rules).
func (s *Scheduler) Enqueue(id RuleID) {
	if s.queued[id] {
		return
	}
	s.queued[id] = true
	s.queue = append(s.queue, id)
}

// Quiesce drains the queue until empty or the scheduler's deadline (if
// any) elapses. It returns herrors.Deadline if the deadline cut
// saturation short; all facts derived before that point remain inserted.
func (s *Scheduler) Quiesce(ctx context.Context) error {
	log := logging.Get(logging.CategoryScheduler)

	var cancel context.CancelFunc
	if s.deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	activations := 0
	for len(s.queue) > 0 {
		select {
		case <-ctx.Done():
			log.Warnw("quiesce aborted by deadline", "activations", activations, "remaining", len(s.queue))
			return herrors.Wrap(herrors.Deadline, ctx.Err(), "quiesce exceeded its time budget")
		case <-ticker.C:
			log.Infow("quiesce in progress", "activations", activations, "remaining", len(s.queue), "elapsed", time.Since(start))
		default:
		}

		id := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, id)

		if err := s.run(ctx, id); err != nil {
			return err
		}
		activations++
	}
	log.Debugw("quiesce reached fixpoint", "activations", activations, "elapsed", time.Since(start))
	return nil
}

// Pending reports how many distinct rule activations are currently
// queued.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}
