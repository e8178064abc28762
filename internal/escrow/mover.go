package escrow

import "context"

// Credit is one external wallet credit produced by a settlement.
type Credit struct {
	OrderID string `json:"order_id"`
	Leg     string `json:"leg"`
	Wallet  string `json:"wallet"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// AssetMover executes the external side of a settlement: crediting
// receive wallets with the transferred assets. Execute is all-or-nothing;
// on error the engine treats the whole settlement as not having happened.
type AssetMover interface {
	Execute(ctx context.Context, credits []Credit) error
}

// NopMover discards credits. Useful when the ledger is authoritative
// and no external transfer executor is attached.
type NopMover struct{}

func (NopMover) Execute(ctx context.Context, credits []Credit) error {
	return nil
}
