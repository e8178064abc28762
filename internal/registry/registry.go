package registry

import (
	"fmt"
	"sync"
	"time"

	"EscrowSettle/internal/escrow"
	"EscrowSettle/internal/trade"
)

// Registry implements two-tier replay protection for settled trade legs.
// Tier 1 is an in-memory map, authoritative within a process lifetime.
// Tier 2 is a Postgres lookup against the settlement log, consulted on
// a memory miss so protection survives restarts even before warming.
//
// A settled mark is permanent. There is no unsettle.
type Registry struct {
	mu      sync.RWMutex
	settled map[legKey]time.Time

	db DBChecker
}

// DBChecker is the Postgres-backed lookup for settled legs.
type DBChecker interface {
	SettledLeg(orderID string, leg string) (bool, time.Time, error)
}

// SettledLeg is one persisted settlement mark, used for warming.
type SettledLeg struct {
	OrderID   string
	Kind      trade.LegKind
	SettledAt time.Time
}

// Status reports per-order settlement progress.
type Status struct {
	OrderID              string     `json:"order_id"`
	SourceSettled        bool       `json:"source_settled"`
	DestinationSettled   bool       `json:"destination_settled"`
	SameChainSettled     bool       `json:"same_chain_settled"`
	SourceSettledAt      *time.Time `json:"source_settled_at,omitempty"`
	DestinationSettledAt *time.Time `json:"destination_settled_at,omitempty"`
	SameChainSettledAt   *time.Time `json:"same_chain_settled_at,omitempty"`
}

type legKey struct {
	OrderID string
	Kind    trade.LegKind
}

func New(db DBChecker) *Registry {
	return &Registry{
		settled: make(map[legKey]time.Time),
		db:      db,
	}
}

// IsSettled checks both tiers. A DB error is treated as "not settled"
// so a database outage cannot block settlement; the in-memory tier still
// catches every replay within the process lifetime.
func (r *Registry) IsSettled(orderID string, kind trade.LegKind) bool {
	r.mu.RLock()
	_, ok := r.settled[legKey{OrderID: orderID, Kind: kind}]
	r.mu.RUnlock()
	if ok {
		return true
	}

	if r.db == nil {
		return false
	}

	settled, at, err := r.db.SettledLeg(orderID, kind.String())
	if err != nil || !settled {
		return false
	}

	// Cache the hit so the DB is not consulted again
	r.mu.Lock()
	r.settled[legKey{OrderID: orderID, Kind: kind}] = at
	r.mu.Unlock()
	return true
}

// MarkSettled records a settled leg. Marking the same leg twice means
// the engine lost serialization somewhere, so it fails hard.
func (r *Registry) MarkSettled(orderID string, kind trade.LegKind, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := legKey{OrderID: orderID, Kind: kind}
	if _, ok := r.settled[k]; ok {
		return fmt.Errorf("order %s leg %s marked twice: %w", orderID, kind, escrow.ErrInvariantViolation)
	}
	r.settled[k] = at
	return nil
}

// Status reads the in-memory tier for all three leg kinds of an order.
func (r *Registry) Status(orderID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{OrderID: orderID}
	if at, ok := r.settled[legKey{OrderID: orderID, Kind: trade.LegSource}]; ok {
		st.SourceSettled = true
		st.SourceSettledAt = &at
	}
	if at, ok := r.settled[legKey{OrderID: orderID, Kind: trade.LegDestination}]; ok {
		st.DestinationSettled = true
		st.DestinationSettledAt = &at
	}
	if at, ok := r.settled[legKey{OrderID: orderID, Kind: trade.LegSameChain}]; ok {
		st.SameChainSettled = true
		st.SameChainSettledAt = &at
	}
	return st
}

// Warm loads persisted settlement marks into the memory tier. Called on
// startup before the engine accepts traffic.
func (r *Registry) Warm(legs []SettledLeg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range legs {
		k := legKey{OrderID: l.OrderID, Kind: l.Kind}
		if _, ok := r.settled[k]; ok {
			continue
		}
		r.settled[k] = l.SettledAt
	}
}

// Size returns the number of settled legs in the memory tier.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.settled)
}
