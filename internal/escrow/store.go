package escrow

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store holds escrow balances for every (account, asset) pair.
// Records are created implicitly on first deposit and never removed;
// a missing record reads as all-zero.
//
// Each operation is atomic under the store mutex. Multi-balance
// sequences (settlement) are serialized one level up by the engine.
type Store struct {
	mu       sync.RWMutex
	balances map[key]*Balance
}

func NewStore() *Store {
	return &Store{
		balances: make(map[key]*Balance),
	}
}

// Deposit increases total. The record is created if absent.
func (s *Store) Deposit(account uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(account, asset)
	b.Total += amount
	return nil
}

// Withdraw decreases total. Only the available portion may leave.
func (s *Store) Withdraw(account uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(account, asset)
	if b.Available() < amount {
		return fmt.Errorf("withdraw: have=%d, need=%d: %w", b.Available(), amount, ErrInsufficientAvailable)
	}
	b.Total -= amount
	return nil
}

// Lock reserves part of the available balance for settlement.
func (s *Store) Lock(account uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("lock %d: %w", amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(account, asset)
	if b.Available() < amount {
		return fmt.Errorf("lock: have=%d, need=%d: %w", b.Available(), amount, ErrInsufficientAvailable)
	}
	b.Locked += amount
	return nil
}

// Release returns locked funds to the available balance. Used on
// settlement abort; never part of a successful settlement.
func (s *Store) Release(account uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("release %d: %w", amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(account, asset)
	if b.Locked < amount {
		return fmt.Errorf("release: locked=%d, need=%d: %w", b.Locked, amount, ErrInvariantViolation)
	}
	b.Locked -= amount
	return nil
}

// SettleTransfer consumes locked funds: total and locked both decrease
// by amount. The external credit is the engine's responsibility.
func (s *Store) SettleTransfer(account uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("settle transfer %d: %w", amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(account, asset)
	if b.Locked < amount {
		return fmt.Errorf("settle transfer: locked=%d, need=%d: %w", b.Locked, amount, ErrInvariantViolation)
	}
	b.Total -= amount
	b.Locked -= amount

	if b.Locked < 0 || b.Locked > b.Total {
		return fmt.Errorf("settle transfer: total=%d locked=%d: %w", b.Total, b.Locked, ErrInvariantViolation)
	}
	return nil
}

// Balance returns (total, available, locked) for the pair. Reads on a
// missing record return zeros.
func (s *Store) Balance(account uuid.UUID, asset string) (total, available, locked int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[key{Account: account, Asset: asset}]
	if !ok {
		return 0, 0, 0
	}
	return b.Total, b.Available(), b.Locked
}

// Locked returns only the locked portion for the pair.
func (s *Store) Locked(account uuid.UUID, asset string) int64 {
	_, _, locked := s.Balance(account, asset)
	return locked
}

// Available returns only the unlocked portion for the pair.
func (s *Store) Available(account uuid.UUID, asset string) int64 {
	_, available, _ := s.Balance(account, asset)
	return available
}

// TotalAsset sums total balances across all accounts for one asset.
// Used by conservation checks in tests and reconciliation.
func (s *Store) TotalAsset(asset string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for k, b := range s.balances {
		if k.Asset == asset {
			sum += b.Total
		}
	}
	return sum
}

// getOrCreate must be called with the write lock held.
func (s *Store) getOrCreate(account uuid.UUID, asset string) *Balance {
	k := key{Account: account, Asset: asset}
	b, ok := s.balances[k]
	if !ok {
		b = &Balance{Account: account, Asset: asset}
		s.balances[k] = b
	}
	return b
}
