// Package telemetry records operational metrics and forwards committed mark
// events to the host application.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/louisbranch/tally/internal/domain"
)

const meterName = "github.com/louisbranch/tally"

// Metrics holds the layer's operational instruments. A nil Metrics is a
// valid no-op receiver so constructors can leave it unset in tests.
type Metrics struct {
	marksApplied    metric.Int64Counter
	driftClamps     metric.Int64Counter
	conflictRetries metric.Int64Counter
	refreshRuns     metric.Int64Counter
	refreshDuration metric.Float64Histogram
	discrepancies   metric.Int64Counter
	reconcileErrors metric.Int64Counter
}

// NewMetrics registers the layer's instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	marksApplied, err := meter.Int64Counter("tally.marks.applied",
		metric.WithDescription("Mark requests committed, by action"))
	if err != nil {
		return nil, err
	}
	driftClamps, err := meter.Int64Counter("tally.cache.drift_clamps",
		metric.WithDescription("Cached counters clamped at zero, signaling accumulated drift"))
	if err != nil {
		return nil, err
	}
	conflictRetries, err := meter.Int64Counter("tally.apply.conflict_retries",
		metric.WithDescription("Durable write attempts retried after lock contention"))
	if err != nil {
		return nil, err
	}
	refreshRuns, err := meter.Int64Counter("tally.refresh.runs",
		metric.WithDescription("View recomputations executed, by outcome"))
	if err != nil {
		return nil, err
	}
	refreshDuration, err := meter.Float64Histogram("tally.refresh.duration",
		metric.WithDescription("View recomputation duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	discrepancies, err := meter.Int64Counter("tally.reconcile.discrepancies",
		metric.WithDescription("Aggregates found diverged from fact rows during reconciliation"))
	if err != nil {
		return nil, err
	}
	reconcileErrors, err := meter.Int64Counter("tally.reconcile.errors",
		metric.WithDescription("Per-subject failures during reconciliation"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		marksApplied:    marksApplied,
		driftClamps:     driftClamps,
		conflictRetries: conflictRetries,
		refreshRuns:     refreshRuns,
		refreshDuration: refreshDuration,
		discrepancies:   discrepancies,
		reconcileErrors: reconcileErrors,
	}, nil
}

// RecordApply counts one committed mark request.
func (m *Metrics) RecordApply(ctx context.Context, action domain.MarkAction) {
	if m == nil {
		return
	}
	m.marksApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
}

// RecordDriftClamp counts one zero-clamp on a cached counter.
func (m *Metrics) RecordDriftClamp(ctx context.Context, subjectID string) {
	if m == nil {
		return
	}
	m.driftClamps.Add(ctx, 1, metric.WithAttributes(attribute.String("subject", subjectID)))
}

// RecordConflictRetry counts one retried durable write attempt.
func (m *Metrics) RecordConflictRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.conflictRetries.Add(ctx, 1)
}

// RecordRefresh counts one executed view recomputation and its duration.
func (m *Metrics) RecordRefresh(ctx context.Context, viewName string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if failed {
		outcome = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("view", viewName),
		attribute.String("outcome", outcome),
	)
	m.refreshRuns.Add(ctx, 1, attrs)
	m.refreshDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordReconciliation counts one nightly run's findings.
func (m *Metrics) RecordReconciliation(ctx context.Context, found, fixed, failures int64) {
	if m == nil {
		return
	}
	m.discrepancies.Add(ctx, found, metric.WithAttributes(attribute.Bool("fixed", fixed == found)))
	if failures > 0 {
		m.reconcileErrors.Add(ctx, failures)
	}
}
