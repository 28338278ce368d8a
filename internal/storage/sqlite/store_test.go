package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/louisbranch/tally/internal/domain"
	"github.com/louisbranch/tally/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tally.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutAndGetAggregate(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{Positive: 2, Negative: 1}); err != nil {
		t.Fatalf("put aggregate: %v", err)
	}
	record, err := store.GetAggregate(ctx, "post-1")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if record.Counters.Positive != 2 || record.Counters.Negative != 1 {
		t.Fatalf("counters = %+v, want {2 1}", record.Counters)
	}

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{Positive: 5}); err != nil {
		t.Fatalf("overwrite aggregate: %v", err)
	}
	record, err = store.GetAggregate(ctx, "post-1")
	if err != nil {
		t.Fatalf("get overwritten aggregate: %v", err)
	}
	if record.Counters.Positive != 5 || record.Counters.Negative != 0 {
		t.Fatalf("counters = %+v, want {5 0}", record.Counters)
	}

	if _, err := store.GetAggregate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.PutAggregate(ctx, "", domain.Counters{}); err == nil {
		t.Fatal("expected error for empty subject id")
	}
	if err := store.PutAggregate(ctx, "post-2", domain.Counters{Positive: -1}); err == nil {
		t.Fatal("expected error for negative counters")
	}
}

func TestListAggregates(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, subject := range []string{"post-b", "post-a"} {
		if err := store.PutAggregate(ctx, subject, domain.Counters{}); err != nil {
			t.Fatalf("put %s: %v", subject, err)
		}
	}
	records, err := store.ListAggregates(ctx)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records len = %d, want 2", len(records))
	}
	if records[0].SubjectID != "post-a" || records[1].SubjectID != "post-b" {
		t.Fatalf("order = [%s %s], want [post-a post-b]", records[0].SubjectID, records[1].SubjectID)
	}
}

func TestApplyMarkLifecycle(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{}); err != nil {
		t.Fatalf("register subject: %v", err)
	}

	counters, err := store.ApplyMark(ctx, "alice", "post-1", domain.MarkStatePositive, domain.Delta{Positive: 1})
	if err != nil {
		t.Fatalf("create mark: %v", err)
	}
	if counters.Positive != 1 || counters.Negative != 0 {
		t.Fatalf("counters = %+v, want {1 0}", counters)
	}
	state, err := store.GetMarkFact(ctx, "alice", "post-1")
	if err != nil {
		t.Fatalf("get mark fact: %v", err)
	}
	if state != domain.MarkStatePositive {
		t.Fatalf("state = %q, want positive", state)
	}

	counters, err = store.ApplyMark(ctx, "alice", "post-1", domain.MarkStateNegative, domain.Delta{Positive: -1, Negative: 1})
	if err != nil {
		t.Fatalf("flip mark: %v", err)
	}
	if counters.Positive != 0 || counters.Negative != 1 {
		t.Fatalf("counters = %+v, want {0 1}", counters)
	}

	counters, err = store.ApplyMark(ctx, "alice", "post-1", domain.MarkStateNone, domain.Delta{Negative: -1})
	if err != nil {
		t.Fatalf("remove mark: %v", err)
	}
	if counters.Positive != 0 || counters.Negative != 0 {
		t.Fatalf("counters = %+v, want {0 0}", counters)
	}
	state, err = store.GetMarkFact(ctx, "alice", "post-1")
	if err != nil {
		t.Fatalf("get removed mark fact: %v", err)
	}
	if state != domain.MarkStateNone {
		t.Fatalf("state = %q, want none", state)
	}
}

func TestApplyMarkUnknownSubject(t *testing.T) {
	store := openTempStore(t)

	_, err := store.ApplyMark(context.Background(), "alice", "ghost", domain.MarkStatePositive, domain.Delta{Positive: 1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyMarkClampsAggregateAtZero(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{}); err != nil {
		t.Fatalf("register subject: %v", err)
	}
	counters, err := store.ApplyMark(ctx, "alice", "post-1", domain.MarkStateNone, domain.Delta{Positive: -1})
	if err != nil {
		t.Fatalf("apply negative delta: %v", err)
	}
	if counters.Positive != 0 {
		t.Fatalf("positive = %d, want 0", counters.Positive)
	}
}

func TestCountMarkFacts(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutAggregate(ctx, "post-1", domain.Counters{}); err != nil {
		t.Fatalf("register subject: %v", err)
	}
	marks := []struct {
		actor string
		state domain.MarkState
		delta domain.Delta
	}{
		{"alice", domain.MarkStatePositive, domain.Delta{Positive: 1}},
		{"bob", domain.MarkStatePositive, domain.Delta{Positive: 1}},
		{"carol", domain.MarkStateNegative, domain.Delta{Negative: 1}},
	}
	for _, mark := range marks {
		if _, err := store.ApplyMark(ctx, mark.actor, "post-1", mark.state, mark.delta); err != nil {
			t.Fatalf("apply %s: %v", mark.actor, err)
		}
	}

	counters, err := store.CountMarkFacts(ctx, "post-1")
	if err != nil {
		t.Fatalf("count facts: %v", err)
	}
	if counters.Positive != 2 || counters.Negative != 1 {
		t.Fatalf("counters = %+v, want {2 1}", counters)
	}

	counters, err = store.CountMarkFacts(ctx, "empty")
	if err != nil {
		t.Fatalf("count empty subject: %v", err)
	}
	if counters.Positive != 0 || counters.Negative != 0 {
		t.Fatalf("counters = %+v, want {0 0}", counters)
	}
}
