package registry_test

import (
	"errors"
	"testing"
	"time"

	"EscrowSettle/internal/escrow"
	"EscrowSettle/internal/registry"
	"EscrowSettle/internal/trade"
)

// fakeDB simulates the Postgres settlement-log lookup.
type fakeDB struct {
	legs    map[string]time.Time
	err     error
	queries int
}

func (f *fakeDB) SettledLeg(orderID, leg string) (bool, time.Time, error) {
	f.queries++
	if f.err != nil {
		return false, time.Time{}, f.err
	}
	at, ok := f.legs[orderID+":"+leg]
	return ok, at, nil
}

// ============================================================================
// Test: mark and check
// ============================================================================

func TestRegistry_MarkThenCheck(t *testing.T) {
	r := registry.New(nil)

	if r.IsSettled("ord-1", trade.LegSource) {
		t.Fatal("fresh leg should not be settled")
	}

	now := time.Now()
	if err := r.MarkSettled("ord-1", trade.LegSource, now); err != nil {
		t.Fatalf("mark: %v", err)
	}

	if !r.IsSettled("ord-1", trade.LegSource) {
		t.Error("marked leg should be settled")
	}
	if r.IsSettled("ord-1", trade.LegDestination) {
		t.Error("other leg kinds are independent")
	}
	if r.IsSettled("ord-2", trade.LegSource) {
		t.Error("other orders are independent")
	}
}

func TestRegistry_DoubleMarkFails(t *testing.T) {
	r := registry.New(nil)
	now := time.Now()

	r.MarkSettled("ord-1", trade.LegSameChain, now)
	err := r.MarkSettled("ord-1", trade.LegSameChain, now)
	if !errors.Is(err, escrow.ErrInvariantViolation) {
		t.Errorf("got %v, want ErrInvariantViolation", err)
	}
}

// ============================================================================
// Test: DB tier
// ============================================================================

func TestRegistry_DBTierHitIsCached(t *testing.T) {
	at := time.Now().Add(-time.Hour)
	db := &fakeDB{legs: map[string]time.Time{"ord-9:destination": at}}
	r := registry.New(db)

	if !r.IsSettled("ord-9", trade.LegDestination) {
		t.Fatal("DB-settled leg should report settled")
	}
	if db.queries != 1 {
		t.Fatalf("want 1 DB query, got %d", db.queries)
	}

	// Second check hits the memory tier
	r.IsSettled("ord-9", trade.LegDestination)
	if db.queries != 1 {
		t.Errorf("cached hit should not query DB again, got %d queries", db.queries)
	}
}

func TestRegistry_DBErrorIsConservative(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	r := registry.New(db)

	if r.IsSettled("ord-1", trade.LegSource) {
		t.Error("DB error should read as not settled")
	}
}

// ============================================================================
// Test: status and warming
// ============================================================================

func TestRegistry_Status(t *testing.T) {
	r := registry.New(nil)
	srcAt := time.Unix(1_700_000_000, 0)
	r.MarkSettled("ord-1", trade.LegSource, srcAt)

	st := r.Status("ord-1")
	if !st.SourceSettled || st.DestinationSettled || st.SameChainSettled {
		t.Errorf("got %+v, want only source settled", st)
	}
	if st.SourceSettledAt == nil || !st.SourceSettledAt.Equal(srcAt) {
		t.Errorf("source settled at: got %v, want %v", st.SourceSettledAt, srcAt)
	}

	empty := r.Status("ord-unknown")
	if empty.SourceSettled || empty.DestinationSettled || empty.SameChainSettled {
		t.Errorf("unknown order should report nothing settled, got %+v", empty)
	}
}

func TestRegistry_WarmRestoresMarks(t *testing.T) {
	r := registry.New(nil)
	at := time.Unix(1_700_000_000, 0)

	r.Warm([]registry.SettledLeg{
		{OrderID: "ord-1", Kind: trade.LegSource, SettledAt: at},
		{OrderID: "ord-2", Kind: trade.LegSameChain, SettledAt: at},
	})

	if !r.IsSettled("ord-1", trade.LegSource) || !r.IsSettled("ord-2", trade.LegSameChain) {
		t.Error("warmed legs should read settled")
	}
	if r.Size() != 2 {
		t.Errorf("size: got %d, want 2", r.Size())
	}
}
