package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tally/internal/storage"
)

// DefaultDebounceWindow is how long a queued demand waits before it becomes
// due. Marks arriving inside the window coalesce into the pending entry.
const DefaultDebounceWindow = 5 * time.Second

// Queue schedules derived-view refreshes with a debounce window.
type Queue struct {
	store    storage.QueueStore
	debounce time.Duration
	clock    func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithDebounceWindow overrides the debounce window.
func WithDebounceWindow(window time.Duration) QueueOption {
	return func(q *Queue) {
		if window > 0 {
			q.debounce = window
		}
	}
}

// WithQueueClock overrides the wall clock. Test hook.
func WithQueueClock(clock func() time.Time) QueueOption {
	return func(q *Queue) { q.clock = clock }
}

// NewQueue creates a refresh queue over the durable queue store.
func NewQueue(store storage.QueueStore, opts ...QueueOption) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	q := &Queue{
		store:    store,
		debounce: DefaultDebounceWindow,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// Enqueue records that a view needs refreshing. The entry becomes due one
// debounce window from now; if the view already has a pending entry the call
// coalesces into it and the existing due time is left untouched, so a steady
// stream of marks cannot starve the refresh.
func (q *Queue) Enqueue(ctx context.Context, viewName, reason string) error {
	viewName = strings.TrimSpace(viewName)
	if viewName == "" {
		return fmt.Errorf("view name is required")
	}
	dueAt := q.clock().UTC().Add(q.debounce)
	if _, err := q.store.EnqueueRefresh(ctx, viewName, reason, dueAt); err != nil {
		return fmt.Errorf("enqueue refresh for %s: %w", viewName, err)
	}
	return nil
}
