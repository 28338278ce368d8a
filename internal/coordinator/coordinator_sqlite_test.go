package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tally/internal/cache/memory"
	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/storage/sqlite"
)

func TestApplyConcurrentSameSubjectSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close() error = %v", err)
		}
	})
	fastPath, err := memory.New(memory.Config{})
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}
	t.Cleanup(fastPath.Close)
	c, err := New(store, fastPath, WithRetryPolicy(3, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{}); err != nil {
		t.Fatalf("PutAggregate() error = %v", err)
	}

	const actors = 8
	var wg sync.WaitGroup
	errs := make(chan error, actors)
	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Apply(ctx, fmt.Sprintf("actor-%d", i), "post-1", domain.MarkStatePositive)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Apply() error = %v", err)
		}
	}

	record, err := store.GetAggregate(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetAggregate() error = %v", err)
	}
	if record.Counters != (domain.Counters{Positive: actors}) {
		t.Fatalf("durable counters = %+v, want {Positive: %d}", record.Counters, actors)
	}
	truth, err := store.CountMarkFacts(ctx, "post-1")
	if err != nil {
		t.Fatalf("CountMarkFacts() error = %v", err)
	}
	if truth != record.Counters {
		t.Fatalf("fact-row count %+v disagrees with durable counters %+v", truth, record.Counters)
	}

	cached, ok, err := fastPath.Counters(ctx, "post-1")
	if err != nil || !ok {
		t.Fatalf("cached counters: ok = %v, err = %v", ok, err)
	}
	if cached != record.Counters {
		t.Fatalf("cached counters = %+v, want %+v", cached, record.Counters)
	}
}
