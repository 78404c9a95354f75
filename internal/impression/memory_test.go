package impression

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/discovery/internal/idempotency"
)

func TestMemoryCounter_SameKeyCountsOnce(t *testing.T) {
	c := NewMemoryCounter(DefaultWindowDays)
	ctx := context.Background()
	now := time.Now()
	key := idempotency.ImpressionKey("creator-1", "viewer-1", "session-1")

	first, err := c.Record(ctx, "creator-1", key, now)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	second, err := c.Record(ctx, "creator-1", key, now)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if !first || second {
		t.Errorf("expected first=true second=false, got %v %v", first, second)
	}

	totals, _ := c.Totals(ctx, "creator-1", now)
	if totals.Rolling != 1 || totals.Cumulative != 1 {
		t.Errorf("expected counts of 1, got %+v", totals)
	}
}

func TestMemoryCounter_RetryAcrossMidnightCountsOnce(t *testing.T) {
	c := NewMemoryCounter(DefaultWindowDays)
	ctx := context.Background()
	lateNight := time.Date(2026, 5, 1, 23, 59, 59, 0, time.UTC)
	key := idempotency.ImpressionKey("creator-1", "viewer-1", "session-1")

	if _, err := c.Record(ctx, "creator-1", key, lateNight); err != nil {
		t.Fatal(err)
	}
	counted, err := c.Record(ctx, "creator-1", key, lateNight.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if counted {
		t.Error("expected retry on the next day to be deduplicated")
	}
}

func TestMemoryCounter_ConcurrentDistinctKeys(t *testing.T) {
	c := NewMemoryCounter(DefaultWindowDays)
	ctx := context.Background()
	now := time.Now()

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := idempotency.ImpressionKey("hot", fmt.Sprintf("viewer-%d", w), fmt.Sprintf("s-%d", i))
				if _, err := c.Record(ctx, "hot", key, now); err != nil {
					t.Errorf("Record() error = %v", err)
				}
				// Every retry of the same key must be ignored.
				_, _ = c.Record(ctx, "hot", key, now)
			}
		}(w)
	}
	wg.Wait()

	totals, _ := c.Totals(ctx, "hot", now)
	if totals.Rolling != workers*perWorker {
		t.Errorf("expected %d impressions, got %d", workers*perWorker, totals.Rolling)
	}
}

func TestMemoryCounter_RollingWindowAndPrune(t *testing.T) {
	c := NewMemoryCounter(7)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	for day := 0; day < 10; day++ {
		at := now.AddDate(0, 0, -day)
		key := idempotency.ImpressionKey("c", "v", fmt.Sprintf("day-%d", day))
		if _, err := c.Record(ctx, "c", key, at); err != nil {
			t.Fatal(err)
		}
	}

	totals, _ := c.Totals(ctx, "c", now)
	if totals.Rolling != 7 {
		t.Errorf("expected 7 impressions in window, got %d", totals.Rolling)
	}
	if totals.Cumulative != 10 {
		t.Errorf("expected 10 cumulative impressions, got %d", totals.Cumulative)
	}

	removed, err := c.Prune(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("expected 3 buckets pruned, got %d", removed)
	}

	after, _ := c.Totals(ctx, "c", now)
	if after != totals {
		t.Errorf("prune changed totals: before %+v after %+v", totals, after)
	}
}

func TestMemoryCounter_Validation(t *testing.T) {
	c := NewMemoryCounter(0)
	ctx := context.Background()

	if _, err := c.Record(ctx, "", "key", time.Now()); err != ErrEmptyCreator {
		t.Errorf("expected ErrEmptyCreator, got %v", err)
	}
	if _, err := c.Record(ctx, "c", "", time.Now()); err != idempotency.ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryCounter_AllTotals(t *testing.T) {
	c := NewMemoryCounter(7)
	ctx := context.Background()
	now := time.Now()

	c.Seed("a", now, 5, 20)
	c.Seed("b", now, 2, 2)

	all, err := c.AllTotals(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 creators, got %d", len(all))
	}
	if all["a"].Rolling != 5 || all["a"].Cumulative != 20 {
		t.Errorf("unexpected totals for a: %+v", all["a"])
	}
}
