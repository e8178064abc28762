package escrow

import "github.com/google/uuid"

// Balance is a per-(account, asset) escrow record.
type Balance struct {
	Account uuid.UUID
	Asset   string
	Total   int64 // Fixed-point: amount * 1e6
	Locked  int64 // Fixed-point: amount * 1e6 (reserved for settlement)
}

// Available returns the withdrawable portion.
func (b *Balance) Available() int64 {
	return b.Total - b.Locked
}

// key identifies a balance record inside the store.
type key struct {
	Account uuid.UUID
	Asset   string
}
