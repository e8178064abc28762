package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LedgerWriter writes settlement marks, transfers, and balance entries
// to Postgres using multi-row INSERT. ON CONFLICT DO NOTHING keeps the
// writes idempotent so a retried batch never double-records a row.
type LedgerWriter struct {
	db *sql.DB
}

// SettlementRow is a row in settlement_log.settlements: the durable
// (order_id, leg) mark the replay registry is warmed from.
type SettlementRow struct {
	Sequence  int64
	OrderID   string
	Leg       string
	SettledAt time.Time
}

// TransferRow is a row in settlement_log.transfers: one external wallet
// credit executed for a settlement.
type TransferRow struct {
	TransferID string
	Sequence   int64
	OrderID    string
	Leg        string
	Payer      string
	Wallet     string
	Asset      string
	Amount     int64
}

// EntryRow is a row in settlement_log.entries: one signed balance
// movement (deposit, withdrawal, or settlement debit).
type EntryRow struct {
	EntryID   string
	Sequence  int64
	EntryType string
	Account   string
	Asset     string
	Amount    int64
	OrderID   sql.NullString
	CreatedAt time.Time
}

func NewLedgerWriter(db *sql.DB) *LedgerWriter {
	return &LedgerWriter{db: db}
}

// WriteSettlementBatch writes settlement marks inside tx.
func (w *LedgerWriter) WriteSettlementBatch(ctx context.Context, tx *sql.Tx, rows []SettlementRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.settlements
		(sequence, order_id, leg, settled_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)

	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, r.Sequence, r.OrderID, r.Leg, r.SettledAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (order_id, leg) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch writes executed transfers inside tx.
func (w *LedgerWriter) WriteTransferBatch(ctx context.Context, tx *sql.Tx, rows []TransferRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.transfers
		(transfer_id, sequence, order_id, leg, payer, wallet, asset, amount)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.TransferID, r.Sequence, r.OrderID, r.Leg,
			r.Payer, r.Wallet, r.Asset, r.Amount,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch writes balance entries inside tx.
func (w *LedgerWriter) WriteEntryBatch(ctx context.Context, tx *sql.Tx, rows []EntryRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.entries
		(entry_id, sequence, entry_type, account, asset, amount, order_id, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.EntryID, r.Sequence, r.EntryType, r.Account,
			r.Asset, r.Amount, r.OrderID, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
