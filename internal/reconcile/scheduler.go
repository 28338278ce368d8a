package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Scheduler fires one reconciliation pass per day at a fixed local hour.
type Scheduler struct {
	reconciler *Reconciler
	hour       int
	clock      func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the wall clock. Test hook.
func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// NewScheduler creates a nightly scheduler firing at the given hour (0-23).
func NewScheduler(reconciler *Reconciler, hour int, opts ...SchedulerOption) (*Scheduler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour %d out of range", hour)
	}
	s := &Scheduler{
		reconciler: reconciler,
		hour:       hour,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// StartScheduler runs the scheduler loop on a background goroutine.
func StartScheduler(s *Scheduler) (context.CancelFunc, chan struct{}) {
	if s == nil {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return cancel, done
}

// Run fires a pass at each day's configured hour until the context is
// cancelled. The next fire is recomputed from the wall clock after every run,
// so a pass running long or a suspended process never causes a double fire.
func (s *Scheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		next := s.NextRun(s.clock())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.reconciler.RunOnce(ctx); err != nil {
			log.Printf("scheduled reconciliation failed: %v", err)
		}
	}
}

// NextRun returns the first instant strictly after now at the configured hour.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
