package tuning

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutAssignsVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Defaults())

	p, _ := s.Current(ctx)
	if p.GuaranteedSlots != DefaultGuaranteedSlots || p.DensityThreshold != DefaultDensityThreshold {
		t.Fatalf("unexpected defaults %+v", p)
	}

	next := p
	next.GuaranteedSlots = 4
	next.Reason = "top decile share above threshold"
	stored, err := s.Put(ctx, next)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 1 || stored.UpdatedAt.IsZero() {
		t.Errorf("unexpected stored params %+v", stored)
	}

	cur, _ := s.Current(ctx)
	if cur.GuaranteedSlots != 4 || cur.Version != 1 {
		t.Errorf("Current() = %+v", cur)
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	s := NewMemoryStore(Defaults())
	if _, err := s.Put(context.Background(), Params{GuaranteedSlots: 3}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}
