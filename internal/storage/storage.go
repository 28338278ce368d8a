// Package storage defines persistence contracts for the consistency layer:
// subject aggregates, mark fact rows, and the derived-view refresh queue.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/tally/internal/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrWriteConflict indicates the durable write lost a lock race and may be
// retried. The sqlite store maps busy/locked failures to this sentinel.
var ErrWriteConflict = errors.New("write conflict")

// AggregateRecord is one subject's durable counter pair.
type AggregateRecord struct {
	SubjectID string
	Counters  domain.Counters
	UpdatedAt time.Time
}

// RefreshStatus is the lifecycle state of a refresh queue entry.
type RefreshStatus string

const (
	RefreshStatusQueued     RefreshStatus = "queued"
	RefreshStatusInProgress RefreshStatus = "in_progress"
	RefreshStatusCompleted  RefreshStatus = "completed"
	RefreshStatusFailed     RefreshStatus = "failed"
)

// RefreshEntry is one durable "view needs refreshing" row.
type RefreshEntry struct {
	ID           int64
	ViewName     string
	Reason       string
	Status       RefreshStatus
	RequestedAt  time.Time
	DueAt        time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMS   int64
	RowsAffected int64
	LastError    string
}

// AggregateStore persists per-subject durable counters.
type AggregateStore interface {
	// PutAggregate upserts a subject's counters. Registering a subject and
	// patching reconciliation drift both go through here.
	PutAggregate(ctx context.Context, subjectID string, counters domain.Counters) error
	// GetAggregate returns ErrNotFound for unknown subjects.
	GetAggregate(ctx context.Context, subjectID string) (AggregateRecord, error)
	// ListAggregates returns every tracked aggregate, for reconciliation.
	ListAggregates(ctx context.Context) ([]AggregateRecord, error)
}

// MarkStore persists per-pair fact rows and applies aggregate deltas.
type MarkStore interface {
	// GetMarkFact returns the durable mark for a pair; absence is none.
	GetMarkFact(ctx context.Context, actorID, subjectID string) (domain.MarkState, error)
	// ApplyMark writes the fact row and the aggregate delta in one
	// transaction holding the writer lock. Returns the post-delta counters.
	// A missing subject yields ErrNotFound; lock contention yields
	// ErrWriteConflict.
	ApplyMark(ctx context.Context, actorID, subjectID string, state domain.MarkState, delta domain.Delta) (domain.Counters, error)
	// CountMarkFacts recomputes a subject's true counters from fact rows.
	CountMarkFacts(ctx context.Context, subjectID string) (domain.Counters, error)
}

// QueueStore persists the debounced refresh queue.
type QueueStore interface {
	// EnqueueRefresh inserts a queued entry unless one is already pending
	// for the view. Reports whether a new entry was created; an existing
	// pending entry is left untouched, due time included.
	EnqueueRefresh(ctx context.Context, viewName, reason string, dueAt time.Time) (bool, error)
	// ClaimDueRefreshes atomically moves every due queued entry to
	// in_progress and returns the claimed rows.
	ClaimDueRefreshes(ctx context.Context, now time.Time) ([]RefreshEntry, error)
	// CompleteRefresh finalizes a claimed entry after a successful run.
	CompleteRefresh(ctx context.Context, id int64, duration time.Duration, rowsAffected int64) error
	// FailRefresh finalizes a claimed entry after a failed run.
	FailRefresh(ctx context.Context, id int64, cause string) error
	// PruneRefreshes deletes terminal entries beyond the most recent keep.
	PruneRefreshes(ctx context.Context, keep int) (int64, error)
	// ListRefreshes lists newest-first entries for inspection.
	ListRefreshes(ctx context.Context, limit int) ([]RefreshEntry, error)
}

// Store bundles every persistence contract the layer needs.
type Store interface {
	AggregateStore
	MarkStore
	QueueStore
}
