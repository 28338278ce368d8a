package refresh

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/platform/timeouts"
	"github.com/louisbranch/tally/internal/storage"
	"github.com/louisbranch/tally/internal/telemetry"
)

const (
	// DefaultPollInterval is how often the worker looks for due entries.
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxConcurrent bounds simultaneous view recomputations.
	DefaultMaxConcurrent = 3

	pruneInterval = 5 * time.Minute
	pruneKeep     = 100
)

// Worker drains due refresh entries through the registry.
type Worker struct {
	store         storage.QueueStore
	registry      *Registry
	metrics       *telemetry.Metrics
	pollInterval  time.Duration
	jobTimeout    time.Duration
	maxConcurrent int
	clock         func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval overrides how often the worker polls for due entries.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithJobTimeout bounds a single view recomputation.
func WithJobTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) {
		if timeout > 0 {
			w.jobTimeout = timeout
		}
	}
}

// WithMaxConcurrent bounds simultaneous view recomputations.
func WithMaxConcurrent(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxConcurrent = n
		}
	}
}

// WithWorkerMetrics sets the operational instruments.
func WithWorkerMetrics(metrics *telemetry.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = metrics }
}

// WithWorkerClock overrides the wall clock. Test hook.
func WithWorkerClock(clock func() time.Time) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

// NewWorker creates a refresh worker.
func NewWorker(store storage.QueueStore, registry *Registry, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	w := &Worker{
		store:         store,
		registry:      registry,
		pollInterval:  DefaultPollInterval,
		jobTimeout:    timeouts.RefreshJob,
		maxConcurrent: DefaultMaxConcurrent,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// StartWorker runs the drain loop on a background goroutine.
func StartWorker(w *Worker) (context.CancelFunc, chan struct{}) {
	if w == nil {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return cancel, done
}

// Run polls for due entries until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				log.Printf("refresh drain failed: %v", err)
			}
		case <-prune.C:
			if deleted, err := w.store.PruneRefreshes(ctx, pruneKeep); err != nil {
				log.Printf("refresh prune failed: %v", err)
			} else if deleted > 0 {
				log.Printf("refresh prune removed %d entries", deleted)
			}
		}
	}
}

// DrainOnce claims every due entry and runs the claimed batch through the
// bounded pool. Individual failures are recorded on their entries; only the
// claim itself can fail the pass.
func (w *Worker) DrainOnce(ctx context.Context) error {
	entries, err := w.store.ClaimDueRefreshes(ctx, w.clock().UTC())
	if err != nil {
		return fmt.Errorf("claim due refreshes: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.maxConcurrent)
	for _, entry := range entries {
		group.Go(func() error {
			w.runEntry(groupCtx, entry)
			return nil
		})
	}
	return group.Wait()
}

func (w *Worker) runEntry(ctx context.Context, entry storage.RefreshEntry) {
	fn, ok := w.registry.Lookup(entry.ViewName)
	if !ok {
		w.finishFailed(ctx, entry, 0, fmt.Errorf("no refresh function registered for view %s", entry.ViewName))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	started := w.clock()
	rowsAffected, err := fn(jobCtx)
	duration := w.clock().Sub(started)

	if err != nil {
		w.finishFailed(ctx, entry, duration, err)
		return
	}
	if err := w.store.CompleteRefresh(ctx, entry.ID, duration, rowsAffected); err != nil {
		log.Printf("complete refresh %d (%s): %v", entry.ID, entry.ViewName, err)
		return
	}
	w.metrics.RecordRefresh(ctx, entry.ViewName, duration, false)
	log.Printf("refreshed view %s in %s (%d rows)", entry.ViewName, duration.Round(time.Millisecond), rowsAffected)
}

func (w *Worker) finishFailed(ctx context.Context, entry storage.RefreshEntry, duration time.Duration, cause error) {
	wrapped := &domain.RefreshExecutionError{ViewName: entry.ViewName, Err: cause}
	if err := w.store.FailRefresh(ctx, entry.ID, wrapped.Error()); err != nil {
		log.Printf("fail refresh %d (%s): %v", entry.ID, entry.ViewName, err)
	}
	w.metrics.RecordRefresh(ctx, entry.ViewName, duration, true)
	log.Printf("refresh of view %s failed: %v", entry.ViewName, cause)
}
