// Package coordinator implements the counter update protocol: toggle
// semantics per (actor, subject) pair, a fast-path cache kept optimistically
// in step with the durable store, and bounded retry on write contention.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/tally/internal/cache"
	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/platform/id"
	"github.com/louisbranch/tally/internal/storage"
	"github.com/louisbranch/tally/internal/telemetry"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 50 * time.Millisecond
)

// Enqueuer schedules a derived-view refresh. Satisfied by refresh.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, viewName, reason string) error
}

// ViewResolver names the derived views whose recomputation depends on a
// subject's aggregate.
type ViewResolver func(subjectID string) []string

// Store is the durable surface the coordinator needs.
type Store interface {
	storage.AggregateStore
	storage.MarkStore
}

// Coordinator applies mark requests.
type Coordinator struct {
	store       Store
	cache       cache.Cache
	queue       Enqueuer
	views       ViewResolver
	emitter     *telemetry.Emitter
	metrics     *telemetry.Metrics
	clock       func() time.Time
	tracer      trace.Tracer
	maxAttempts int
	retryBase   time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithQueue sets the refresh queue notified after commits.
func WithQueue(queue Enqueuer, views ViewResolver) Option {
	return func(c *Coordinator) {
		c.queue = queue
		c.views = views
	}
}

// WithEmitter sets the committed-event hook.
func WithEmitter(emitter *telemetry.Emitter) Option {
	return func(c *Coordinator) { c.emitter = emitter }
}

// WithMetrics sets the operational instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithClock overrides the wall clock. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithRetryPolicy bounds the durable-write retry loop.
func WithRetryPolicy(maxAttempts int, base time.Duration) Option {
	return func(c *Coordinator) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// New creates a Coordinator.
func New(store Store, fastPath cache.Cache, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if fastPath == nil {
		return nil, fmt.Errorf("cache is required")
	}
	c := &Coordinator{
		store:       store,
		cache:       fastPath,
		clock:       time.Now,
		tracer:      otel.Tracer("github.com/louisbranch/tally/internal/coordinator"),
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Result is the outcome of one Apply call. Counters is the coordinator's own
// post-delta bookkeeping, the layer's declared answer for readers; the durable
// row is kept aligned by seeding and by reconciliation.
type Result struct {
	RequestID string
	Action    domain.MarkAction
	Counters  domain.Counters
}

type applyOptions struct {
	requestID string
}

// ApplyOption configures one Apply call.
type ApplyOption func(*applyOptions)

// WithRequestID supplies an idempotency token. Resubmitting a committed
// token returns the recorded result without reapplying deltas.
func WithRequestID(requestID string) ApplyOption {
	return func(o *applyOptions) { o.requestID = strings.TrimSpace(requestID) }
}

// Apply sets the actor's mark on the subject to the requested state.
// Requesting the state already held toggles the mark off.
func (c *Coordinator) Apply(ctx context.Context, actorID, subjectID string, requested domain.MarkState, opts ...ApplyOption) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.apply",
		trace.WithAttributes(attribute.String("subject", subjectID)))
	defer span.End()

	actorID = strings.TrimSpace(actorID)
	subjectID = strings.TrimSpace(subjectID)
	if actorID == "" {
		return Result{}, domain.ErrEmptyActorID
	}
	if subjectID == "" {
		return Result{}, domain.ErrEmptySubjectID
	}
	if !requested.Requestable() {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrInvalidRequestedState, requested)
	}

	var options applyOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	requestID := options.requestID
	if requestID == "" {
		generated, err := id.NewID()
		if err != nil {
			return Result{}, fmt.Errorf("generate request id: %w", err)
		}
		requestID = generated
	} else if result, replayed, err := c.replay(ctx, requestID); err != nil {
		return Result{}, err
	} else if replayed {
		return result, nil
	}

	prior, err := c.priorState(ctx, actorID, subjectID)
	if err != nil {
		return Result{}, err
	}

	action, next, delta, err := domain.Transition(prior, requested)
	if err != nil {
		return Result{}, err
	}

	counters, err := c.applyCachedDelta(ctx, subjectID, delta)
	if err != nil {
		return Result{}, err
	}

	if err := c.cache.SetMark(ctx, actorID, subjectID, next); err != nil {
		return Result{}, fmt.Errorf("update membership sets: %w", err)
	}

	now := c.clock().UTC()
	request := domain.MarkRequest{
		RequestID:        requestID,
		ActorID:          actorID,
		SubjectID:        subjectID,
		RequestedState:   requested,
		PriorState:       prior,
		Action:           action,
		OptimisticCounts: counters,
		Status:           domain.RequestStatusPending,
		CreatedAt:        now,
	}
	if err := c.cache.PutRequest(ctx, request); err != nil {
		return Result{}, fmt.Errorf("record mark request: %w", err)
	}

	if err := c.commitDurable(ctx, actorID, subjectID, next, delta); err != nil {
		request.Status = domain.RequestStatusFailed
		if putErr := c.cache.PutRequest(ctx, request); putErr != nil {
			log.Printf("record failed mark request %s: %v", requestID, putErr)
		}
		return Result{}, err
	}

	request.Status = domain.RequestStatusCommitted
	if err := c.cache.PutRequest(ctx, request); err != nil {
		log.Printf("record committed mark request %s: %v", requestID, err)
	}
	if err := c.cache.AppendEvent(ctx, domain.AuditEvent{
		RequestID: requestID,
		ActorID:   actorID,
		SubjectID: subjectID,
		Action:    action,
		Timestamp: now,
	}); err != nil {
		log.Printf("append audit event %s: %v", requestID, err)
	}

	c.metrics.RecordApply(ctx, action)
	c.notifyViews(ctx, subjectID, action)
	c.emitter.Emit(ctx, telemetry.MarkEvent{
		RequestID: requestID,
		ActorID:   actorID,
		SubjectID: subjectID,
		Action:    action,
		Counters:  counters,
		Timestamp: now,
	})

	return Result{RequestID: requestID, Action: action, Counters: counters}, nil
}

// replay returns the recorded result for an already-committed request id.
func (c *Coordinator) replay(ctx context.Context, requestID string) (Result, bool, error) {
	recorded, ok, err := c.cache.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, false, fmt.Errorf("look up request record: %w", err)
	}
	if !ok || recorded.Status != domain.RequestStatusCommitted {
		return Result{}, false, nil
	}
	return Result{
		RequestID: recorded.RequestID,
		Action:    recorded.Action,
		Counters:  recorded.OptimisticCounts,
	}, true, nil
}

// priorState resolves the actor's current mark, falling back to the durable
// fact row on a cache miss and repopulating the membership sets on that path.
func (c *Coordinator) priorState(ctx context.Context, actorID, subjectID string) (domain.MarkState, error) {
	state, hit, err := c.cache.GetMark(ctx, actorID, subjectID)
	if err != nil {
		return domain.MarkStateNone, fmt.Errorf("read membership sets: %w", err)
	}
	if hit {
		return state, nil
	}

	state, err = c.store.GetMarkFact(ctx, actorID, subjectID)
	if errors.Is(err, storage.ErrWriteConflict) {
		return domain.MarkStateNone, &domain.ConflictError{SubjectID: subjectID, Attempts: 1, Err: err}
	}
	if err != nil {
		return domain.MarkStateNone, fmt.Errorf("read durable mark fact: %w", err)
	}
	if state != domain.MarkStateNone {
		if err := c.cache.SetMark(ctx, actorID, subjectID, state); err != nil {
			return domain.MarkStateNone, fmt.Errorf("repopulate membership sets: %w", err)
		}
	}
	return state, nil
}

// applyCachedDelta applies the delta to the cached aggregate, seeding from the
// durable value first when the cache is cold so the initial tally is never
// lost under an empty cache.
func (c *Coordinator) applyCachedDelta(ctx context.Context, subjectID string, delta domain.Delta) (domain.Counters, error) {
	for {
		counters, clamped, err := c.cache.AddCounters(ctx, subjectID, delta)
		if err == nil {
			if clamped {
				c.metrics.RecordDriftClamp(ctx, subjectID)
			}
			return counters, nil
		}
		if !errors.Is(err, cache.ErrColdCounters) {
			return domain.Counters{}, fmt.Errorf("apply cached delta: %w", err)
		}

		record, err := c.store.GetAggregate(ctx, subjectID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Counters{}, &domain.SubjectNotFoundError{SubjectID: subjectID}
		}
		if errors.Is(err, storage.ErrWriteConflict) {
			return domain.Counters{}, &domain.ConflictError{SubjectID: subjectID, Attempts: 1, Err: err}
		}
		if err != nil {
			return domain.Counters{}, fmt.Errorf("seed aggregate snapshot: %w", err)
		}
		if err := c.cache.SeedCounters(ctx, subjectID, record.Counters); err != nil {
			return domain.Counters{}, fmt.Errorf("seed aggregate snapshot: %w", err)
		}
	}
}

// commitDurable writes the fact row and aggregate delta, retrying lock
// contention with exponential backoff before surfacing a conflict.
func (c *Coordinator) commitDurable(ctx context.Context, actorID, subjectID string, state domain.MarkState, delta domain.Delta) error {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		_, err := c.store.ApplyMark(ctx, actorID, subjectID, state, delta)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, storage.ErrWriteConflict):
			c.metrics.RecordConflictRetry(ctx)
			return struct{}{}, err
		case errors.Is(err, storage.ErrNotFound):
			return struct{}{}, backoff.Permanent(&domain.SubjectNotFoundError{SubjectID: subjectID})
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrWriteConflict) {
		return &domain.ConflictError{SubjectID: subjectID, Attempts: attempts, Err: err}
	}
	var notFound *domain.SubjectNotFoundError
	if errors.As(err, &notFound) {
		return notFound
	}
	return fmt.Errorf("durable mark write: %w", err)
}

// notifyViews enqueues a refresh for every derived view depending on the
// subject. Failures are logged; they never fail the apply.
func (c *Coordinator) notifyViews(ctx context.Context, subjectID string, action domain.MarkAction) {
	if c.queue == nil || c.views == nil {
		return
	}
	reason := fmt.Sprintf("mark %s on subject %s", action, subjectID)
	for _, viewName := range c.views(subjectID) {
		if err := c.queue.Enqueue(ctx, viewName, reason); err != nil {
			log.Printf("enqueue refresh for view %s: %v", viewName, err)
		}
	}
}
