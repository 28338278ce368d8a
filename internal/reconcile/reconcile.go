// Package reconcile restores durable aggregates to ground truth by
// recounting fact rows, and schedules that pass nightly.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/tally/internal/cache"
	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/platform/timeouts"
	"github.com/louisbranch/tally/internal/storage"
	"github.com/louisbranch/tally/internal/telemetry"
)

// DefaultHour is the local wall-clock hour of the nightly pass.
const DefaultHour = 3

// Store is the durable surface the reconciler needs.
type Store interface {
	storage.AggregateStore
	storage.MarkStore
}

// ItemError records one subject the pass could not reconcile.
type ItemError struct {
	SubjectID string
	Reason    string
}

// Report summarizes one reconciliation pass.
type Report struct {
	RunAt              time.Time
	SubjectsChecked    int
	DiscrepanciesFound int
	DiscrepanciesFixed int
	Errors             []ItemError
}

// Reconciler recounts fact rows against stored aggregates.
type Reconciler struct {
	store          Store
	cache          cache.Cache
	metrics        *telemetry.Metrics
	subjectTimeout time.Duration
	clock          func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMetrics sets the operational instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Reconciler) { r.metrics = metrics }
}

// WithSubjectTimeout bounds the work spent on a single subject.
func WithSubjectTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.subjectTimeout = timeout
		}
	}
}

// WithClock overrides the wall clock. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// New creates a Reconciler.
func New(store Store, fastPath cache.Cache, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if fastPath == nil {
		return nil, fmt.Errorf("cache is required")
	}
	r := &Reconciler{
		store:          store,
		cache:          fastPath,
		subjectTimeout: timeouts.ReconcileSubject,
		clock:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// RunOnce reconciles every tracked subject. Per-subject failures are recorded
// in the report and the pass continues; only the aggregate listing itself can
// fail the run.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RunAt: r.clock().UTC()}

	records, err := r.store.ListAggregates(ctx)
	if err != nil {
		return report, fmt.Errorf("list aggregates: %w", err)
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.SubjectsChecked++
		fixed, found, err := r.reconcileSubject(ctx, record)
		if err != nil {
			item := &domain.ReconciliationItemError{SubjectID: record.SubjectID, Err: err}
			report.Errors = append(report.Errors, ItemError{
				SubjectID: record.SubjectID,
				Reason:    item.Error(),
			})
			log.Printf("reconcile subject %s: %v", record.SubjectID, err)
			continue
		}
		if found {
			report.DiscrepanciesFound++
		}
		if fixed {
			report.DiscrepanciesFixed++
		}
	}

	r.metrics.RecordReconciliation(ctx,
		int64(report.DiscrepanciesFound),
		int64(report.DiscrepanciesFixed),
		int64(len(report.Errors)),
	)
	log.Printf("reconciliation pass: %d subjects, %d discrepancies, %d fixed, %d errors",
		report.SubjectsChecked, report.DiscrepanciesFound, report.DiscrepanciesFixed, len(report.Errors))
	return report, nil
}

// reconcileSubject recounts one subject's fact rows and patches the stored
// aggregate when it has drifted. The cached snapshot is invalidated so the
// next touch reseeds from the patched value.
func (r *Reconciler) reconcileSubject(ctx context.Context, record storage.AggregateRecord) (fixed, found bool, err error) {
	subjCtx, cancel := context.WithTimeout(ctx, r.subjectTimeout)
	defer cancel()

	truth, err := r.store.CountMarkFacts(subjCtx, record.SubjectID)
	if err != nil {
		return false, false, fmt.Errorf("count fact rows: %w", err)
	}
	if truth == record.Counters {
		return false, false, nil
	}

	if err := r.store.PutAggregate(subjCtx, record.SubjectID, truth); err != nil {
		return false, true, fmt.Errorf("patch aggregate: %w", err)
	}
	if err := r.cache.InvalidateCounters(subjCtx, record.SubjectID); err != nil {
		return false, true, fmt.Errorf("invalidate cached counters: %w", err)
	}
	log.Printf("reconciled subject %s: stored %+v, recounted %+v",
		record.SubjectID, record.Counters, truth)
	return true, true, nil
}
