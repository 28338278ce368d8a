// Package memory provides the in-process fast-path cache implementation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/louisbranch/tally/internal/cache"
	"github.com/louisbranch/tally/internal/domain"
)

const (
	defaultEventLogSize     = 1024
	defaultRequestTTL       = 24 * time.Hour
	defaultRequestCounters  = 1 << 16
	defaultRequestMaxCost   = 1 << 24
	defaultRequestBufferLen = 64
)

// Config controls cache sizing and retention.
type Config struct {
	// EventLogSize caps the bounded audit log. Defaults to 1024.
	EventLogSize int
	// RequestTTL bounds how long request outcome records are retained.
	// Defaults to 24h.
	RequestTTL time.Duration
	// RequestMaxCost caps the request record cache in bytes. Defaults to 16 MiB.
	RequestMaxCost int64
}

func (c Config) normalized() Config {
	if c.EventLogSize <= 0 {
		c.EventLogSize = defaultEventLogSize
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = defaultRequestTTL
	}
	if c.RequestMaxCost <= 0 {
		c.RequestMaxCost = defaultRequestMaxCost
	}
	return c
}

// counterPair holds one subject's cached tally. Increments go through the
// atomic fields so concurrent Apply calls never read-modify-write.
type counterPair struct {
	positive atomic.Int64
	negative atomic.Int64
}

type actorSets struct {
	mu       sync.Mutex
	positive map[string]struct{}
	negative map[string]struct{}
}

// Cache is the in-memory cache.Cache implementation.
type Cache struct {
	cfg Config

	countersMu sync.RWMutex
	counters   map[string]*counterPair

	marksMu sync.RWMutex
	marks   map[string]*actorSets

	eventsMu sync.Mutex
	events   []domain.AuditEvent
	eventPos int
	eventLen int

	requests *ristretto.Cache[string, domain.MarkRequest]
}

// New creates an in-memory cache.
func New(cfg Config) (*Cache, error) {
	cfg = cfg.normalized()
	requests, err := ristretto.NewCache(&ristretto.Config[string, domain.MarkRequest]{
		NumCounters: defaultRequestCounters,
		MaxCost:     cfg.RequestMaxCost,
		BufferItems: defaultRequestBufferLen,
	})
	if err != nil {
		return nil, fmt.Errorf("create request record cache: %w", err)
	}
	return &Cache{
		cfg:      cfg,
		counters: make(map[string]*counterPair),
		marks:    make(map[string]*actorSets),
		events:   make([]domain.AuditEvent, cfg.EventLogSize),
		requests: requests,
	}, nil
}

// Close releases the request record cache.
func (c *Cache) Close() {
	if c == nil || c.requests == nil {
		return
	}
	c.requests.Close()
}

// Wait blocks until buffered request record writes are visible. Test hook.
func (c *Cache) Wait() {
	if c == nil || c.requests == nil {
		return
	}
	c.requests.Wait()
}

// AddCounters implements cache.Cache.
func (c *Cache) AddCounters(ctx context.Context, subjectID string, delta domain.Delta) (domain.Counters, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, false, err
	}
	c.countersMu.RLock()
	pair, ok := c.counters[subjectID]
	c.countersMu.RUnlock()
	if !ok {
		return domain.Counters{}, false, cache.ErrColdCounters
	}

	clamped := false
	positive := pair.positive.Add(delta.Positive)
	if positive < 0 {
		pair.positive.CompareAndSwap(positive, 0)
		positive = 0
		clamped = true
	}
	negative := pair.negative.Add(delta.Negative)
	if negative < 0 {
		pair.negative.CompareAndSwap(negative, 0)
		negative = 0
		clamped = true
	}
	return domain.Counters{Positive: positive, Negative: negative}, clamped, nil
}

// SeedCounters implements cache.Cache.
func (c *Cache) SeedCounters(ctx context.Context, subjectID string, counters domain.Counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	if _, ok := c.counters[subjectID]; ok {
		return nil
	}
	pair := &counterPair{}
	pair.positive.Store(counters.Positive)
	pair.negative.Store(counters.Negative)
	c.counters[subjectID] = pair
	return nil
}

// Counters implements cache.Cache.
func (c *Cache) Counters(ctx context.Context, subjectID string) (domain.Counters, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, false, err
	}
	c.countersMu.RLock()
	pair, ok := c.counters[subjectID]
	c.countersMu.RUnlock()
	if !ok {
		return domain.Counters{}, false, nil
	}
	return domain.Counters{
		Positive: pair.positive.Load(),
		Negative: pair.negative.Load(),
	}, true, nil
}

// InvalidateCounters implements cache.Cache.
func (c *Cache) InvalidateCounters(ctx context.Context, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.countersMu.Lock()
	delete(c.counters, subjectID)
	c.countersMu.Unlock()
	return nil
}

func (c *Cache) actorSetsFor(actorID string, create bool) *actorSets {
	c.marksMu.RLock()
	sets, ok := c.marks[actorID]
	c.marksMu.RUnlock()
	if ok || !create {
		return sets
	}
	c.marksMu.Lock()
	defer c.marksMu.Unlock()
	if sets, ok = c.marks[actorID]; ok {
		return sets
	}
	sets = &actorSets{
		positive: make(map[string]struct{}),
		negative: make(map[string]struct{}),
	}
	c.marks[actorID] = sets
	return sets
}

// GetMark implements cache.Cache.
func (c *Cache) GetMark(ctx context.Context, actorID, subjectID string) (domain.MarkState, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarkStateNone, false, err
	}
	sets := c.actorSetsFor(actorID, false)
	if sets == nil {
		return domain.MarkStateNone, false, nil
	}
	sets.mu.Lock()
	defer sets.mu.Unlock()
	if _, ok := sets.positive[subjectID]; ok {
		return domain.MarkStatePositive, true, nil
	}
	if _, ok := sets.negative[subjectID]; ok {
		return domain.MarkStateNegative, true, nil
	}
	return domain.MarkStateNone, false, nil
}

// SetMark implements cache.Cache.
func (c *Cache) SetMark(ctx context.Context, actorID, subjectID string, state domain.MarkState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("invalid mark state %q", state)
	}
	sets := c.actorSetsFor(actorID, true)
	sets.mu.Lock()
	defer sets.mu.Unlock()
	delete(sets.positive, subjectID)
	delete(sets.negative, subjectID)
	switch state {
	case domain.MarkStatePositive:
		sets.positive[subjectID] = struct{}{}
	case domain.MarkStateNegative:
		sets.negative[subjectID] = struct{}{}
	}
	return nil
}

// AppendEvent implements cache.Cache.
func (c *Cache) AppendEvent(ctx context.Context, event domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events[c.eventPos] = event
	c.eventPos = (c.eventPos + 1) % len(c.events)
	if c.eventLen < len(c.events) {
		c.eventLen++
	}
	return nil
}

// RecentEvents implements cache.Cache.
func (c *Cache) RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	if limit <= 0 || limit > c.eventLen {
		limit = c.eventLen
	}
	events := make([]domain.AuditEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		index := (c.eventPos - i + len(c.events)) % len(c.events)
		events = append(events, c.events[index])
	}
	return events, nil
}

// PutRequest implements cache.Cache.
func (c *Cache) PutRequest(ctx context.Context, request domain.MarkRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if request.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	cost := int64(len(request.RequestID) + len(request.ActorID) + len(request.SubjectID) + 64)
	c.requests.SetWithTTL(request.RequestID, request, cost, c.cfg.RequestTTL)
	return nil
}

// GetRequest implements cache.Cache.
func (c *Cache) GetRequest(ctx context.Context, requestID string) (domain.MarkRequest, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarkRequest{}, false, err
	}
	request, ok := c.requests.Get(requestID)
	if !ok {
		return domain.MarkRequest{}, false, nil
	}
	return request, true, nil
}
