package engine

import (
	"time"

	"github.com/google/uuid"
)

// Entry types recorded in the ledger log.
const (
	EntryDeposit    = "deposit"
	EntryWithdrawal = "withdrawal"
	EntrySettlement = "settlement"
)

// Entry is one balance movement. Amount is signed: positive increases
// the account's total, negative decreases it.
type Entry struct {
	EntryID   uuid.UUID `json:"entry_id"`
	Sequence  int64     `json:"sequence"`
	EntryType string    `json:"entry_type"`
	Account   uuid.UUID `json:"account"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Transfer is one external wallet credit belonging to a settlement.
type Transfer struct {
	Payer  uuid.UUID `json:"payer"`
	Wallet string    `json:"wallet"`
	Asset  string    `json:"asset"`
	Amount int64     `json:"amount"`
}

// SettlementRecord is the durable mark for one settled (order, leg).
// A same-chain settlement produces one record with two transfers.
type SettlementRecord struct {
	Sequence  int64      `json:"sequence"`
	OrderID   string     `json:"order_id"`
	Leg       string     `json:"leg"`
	Transfers []Transfer `json:"transfers"`
	SettledAt time.Time  `json:"settled_at"`
}

// Output is what the engine emits after every applied operation.
// Settlement is nil for plain deposits and withdrawals.
type Output struct {
	Sequence   int64             `json:"sequence"`
	Settlement *SettlementRecord `json:"settlement,omitempty"`
	Entries    []Entry           `json:"entries"`
	Timestamp  time.Time         `json:"timestamp"`
}
