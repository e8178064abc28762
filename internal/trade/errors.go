package trade

import "errors"

var (
	// ErrInvalidWallet rejects missing or zero receive wallet addresses.
	ErrInvalidWallet = errors.New("invalid receive wallet")

	// ErrOppositeSidesRequired rejects trades where both parties are on
	// the same side.
	ErrOppositeSidesRequired = errors.New("parties must take opposite sides")

	// ErrWrongChain rejects a leg submitted to an engine whose chain
	// identity does not match the leg's chain.
	ErrWrongChain = errors.New("trade leg does not belong to this chain")

	// ErrInsufficientEscrow rejects settlement when the paying party's
	// escrow cannot cover the owed amount.
	ErrInsufficientEscrow = errors.New("insufficient escrow for settlement")

	// ErrAlreadySettled rejects a replayed (order, leg) submission.
	ErrAlreadySettled = errors.New("trade leg already settled")
)
