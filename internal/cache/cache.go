// Package cache defines the fast-path cache contract used by the counter
// coordinator and the reconciler.
//
// The contract mirrors the primitives the layer needs from any key-value
// store: single-operation counter increments, atomic set add/remove for
// per-actor membership, a bounded append-only audit log, and TTL'd request
// outcome records. Implementations are injected into constructors; nothing in
// this module reaches for a process-global cache client.
package cache

import (
	"context"
	"errors"

	"github.com/louisbranch/tally/internal/domain"
)

// ErrColdCounters indicates no counter snapshot exists for the subject yet.
// Callers must seed from the durable value before applying deltas, otherwise
// the first delta would be applied to a phantom zero snapshot.
var ErrColdCounters = errors.New("no cached counters for subject")

// Cache is the fast-path layer shared by all coordinator invocations.
type Cache interface {
	// AddCounters atomically applies delta to the subject's cached counters
	// and clamps both fields at zero. The clamped result reports whether a
	// clamp occurred, which callers treat as detected drift. Returns
	// ErrColdCounters when the subject has no snapshot.
	AddCounters(ctx context.Context, subjectID string, delta domain.Delta) (counters domain.Counters, clamped bool, err error)

	// SeedCounters installs a snapshot only when none exists. A live snapshot
	// is never overwritten so concurrent deltas are not lost.
	SeedCounters(ctx context.Context, subjectID string, counters domain.Counters) error

	// Counters reads the current snapshot without modifying it.
	Counters(ctx context.Context, subjectID string) (domain.Counters, bool, error)

	// InvalidateCounters drops the snapshot so the next touch reseeds from
	// the durable value. Used after reconciliation patches a subject.
	InvalidateCounters(ctx context.Context, subjectID string) error

	// GetMark returns the actor's cached mark on the subject. The second
	// result reports whether the membership sets held an answer at all;
	// callers fall back to the durable fact row on a miss.
	GetMark(ctx context.Context, actorID, subjectID string) (domain.MarkState, bool, error)

	// SetMark moves the subject between the actor's membership sets so it is
	// a member of at most one. MarkStateNone removes it from both.
	SetMark(ctx context.Context, actorID, subjectID string, state domain.MarkState) error

	// AppendEvent appends to the bounded audit log, dropping the oldest
	// entry once the log is full. Diagnostic only.
	AppendEvent(ctx context.Context, event domain.AuditEvent) error

	// RecentEvents lists up to limit audit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error)

	// PutRequest records a mark request outcome for idempotent replay.
	// Retention is best effort and bounded by the implementation's TTL.
	PutRequest(ctx context.Context, request domain.MarkRequest) error

	// GetRequest returns a previously recorded request outcome.
	GetRequest(ctx context.Context, requestID string) (domain.MarkRequest, bool, error)
}
