package fairness

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if _, err := s.Latest(ctx); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("Latest() on empty store = %v, want ErrReportNotFound", err)
	}

	for i, id := range []string{"r1", "r2", "r3"} {
		r := &Report{ID: id, CreatedAt: testNow.Add(time.Duration(i) * time.Hour), Verdict: VerdictPass}
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}
	if err := s.Append(ctx, &Report{ID: "r2"}); !errors.Is(err, ErrReportExists) {
		t.Errorf("duplicate Append() = %v, want ErrReportExists", err)
	}

	latest, err := s.Latest(ctx)
	if err != nil || latest.ID != "r3" {
		t.Fatalf("Latest() = %v, %v", latest, err)
	}
	r2, err := s.Get(ctx, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if r2.PreviousHash == "" || r2.PreviousHash == r2.Hash {
		t.Errorf("r2 not chained: %+v", r2)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "r3" || list[1].ID != "r2" {
		t.Errorf("List(2) = %v", ids(list))
	}

	// Returned reports are copies.
	latest.Checks = append(latest.Checks, Check{Name: "injected"})
	again, _ := s.Latest(ctx)
	if len(again.Checks) != 0 {
		t.Error("mutating a returned report changed the store")
	}
}

func TestVerify_DetectsReorder(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for _, id := range []string{"a", "b"} {
		if err := s.Append(ctx, &Report{ID: id, CreatedAt: testNow}); err != nil {
			t.Fatal(err)
		}
	}
	list, _ := s.List(ctx, 0)
	if err := Verify(list); !errors.Is(err, ErrChainBroken) {
		t.Errorf("Verify(newest first) = %v, want ErrChainBroken", err)
	}
	if err := Verify([]*Report{list[1], list[0]}); err != nil {
		t.Errorf("Verify(oldest first) = %v", err)
	}
}

func ids(reports []*Report) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.ID
	}
	return out
}
