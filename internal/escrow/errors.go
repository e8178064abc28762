package escrow

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative amounts on any mutation.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientAvailable rejects withdrawals and locks that exceed
	// the unlocked portion of the balance.
	ErrInsufficientAvailable = errors.New("insufficient available balance")

	// ErrInvariantViolation signals that an operation would break
	// 0 <= locked <= total. Settlement paths treat this as fatal.
	ErrInvariantViolation = errors.New("escrow invariant violation")
)
