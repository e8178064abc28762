package trade

import (
	"fmt"
	"strings"

	"EscrowSettle/internal/escrow"
)

// ReplayChecker answers whether a trade leg has already been settled.
// Implemented by the replay registry.
type ReplayChecker interface {
	IsSettled(orderID string, kind LegKind) bool
}

// Validator runs the pre-settlement checks for one settlement call.
// Checks run in a fixed order and the first failure wins, so a trade
// with several defects reports the same error on every submission.
type Validator struct {
	store   *escrow.Store
	replay  ReplayChecker
	chainID int64
}

func NewValidator(store *escrow.Store, replay ReplayChecker, chainID int64) *Validator {
	return &Validator{
		store:   store,
		replay:  replay,
		chainID: chainID,
	}
}

// Validate is read-only: it never locks, transfers, or marks anything.
func (v *Validator) Validate(t *Trade, kind LegKind) error {
	// 1. Receive wallets
	if !validWallet(t.Party1ReceiveWallet) {
		return fmt.Errorf("party1 wallet %q: %w", t.Party1ReceiveWallet, ErrInvalidWallet)
	}
	if !validWallet(t.Party2ReceiveWallet) {
		return fmt.Errorf("party2 wallet %q: %w", t.Party2ReceiveWallet, ErrInvalidWallet)
	}

	// 2. Opposite sides
	if t.Party1Side == t.Party2Side {
		return fmt.Errorf("party1=%s party2=%s: %w", t.Party1Side, t.Party2Side, ErrOppositeSidesRequired)
	}

	// 3. Chain identity
	if err := v.checkChain(t, kind); err != nil {
		return err
	}

	// 4. Positive terms
	if t.Quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", t.Quantity, escrow.ErrInvalidAmount)
	}
	if t.Price <= 0 {
		return fmt.Errorf("price %d: %w", t.Price, escrow.ErrInvalidAmount)
	}

	// 5. Replay protection
	if v.replay != nil && v.replay.IsSettled(t.OrderID, kind) {
		return fmt.Errorf("order %s leg %s: %w", t.OrderID, kind, ErrAlreadySettled)
	}

	// 6. Escrow coverage per (payer, asset) pool. Deliveries drawing on
	// one pool are covered together: either enough is already locked or
	// the available balance covers the combined owed amount.
	for _, req := range Requirements(t.Legs(kind)) {
		total, available, locked := v.store.Balance(req.Payer, req.Asset)
		if locked < req.Amount && available < req.Amount {
			return fmt.Errorf("order %s leg %s payer %s asset %s: total=%d available=%d locked=%d need=%d: %w",
				t.OrderID, kind, req.Payer, req.Asset, total, available, locked, req.Amount,
				ErrInsufficientEscrow)
		}
	}

	return nil
}

func (v *Validator) checkChain(t *Trade, kind LegKind) error {
	switch kind {
	case LegSource:
		if t.SourceChainID != v.chainID {
			return fmt.Errorf("source chain %d, local chain %d: %w", t.SourceChainID, v.chainID, ErrWrongChain)
		}
	case LegDestination:
		if t.DestinationChainID != v.chainID {
			return fmt.Errorf("destination chain %d, local chain %d: %w", t.DestinationChainID, v.chainID, ErrWrongChain)
		}
	case LegSameChain:
		if t.SourceChainID != t.DestinationChainID {
			return fmt.Errorf("source chain %d, destination chain %d: %w", t.SourceChainID, t.DestinationChainID, ErrWrongChain)
		}
		if t.SourceChainID != v.chainID {
			return fmt.Errorf("trade chain %d, local chain %d: %w", t.SourceChainID, v.chainID, ErrWrongChain)
		}
	}
	return nil
}

// validWallet accepts any non-empty address that is not the zero address.
func validWallet(w string) bool {
	if w == "" {
		return false
	}
	hex := strings.TrimPrefix(strings.ToLower(w), "0x")
	if hex == "" {
		return false
	}
	for _, c := range hex {
		if c != '0' {
			return true
		}
	}
	return false
}
