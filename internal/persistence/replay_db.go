package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresReplayChecker is the DB tier of the replay registry: a cold
// lookup against settlement_log.settlements for legs settled before the
// last restart.
type PostgresReplayChecker struct {
	db *sql.DB
}

func NewPostgresReplayChecker(db *sql.DB) *PostgresReplayChecker {
	return &PostgresReplayChecker{db: db}
}

// SettledLeg reports whether (orderID, leg) is in the settlement log.
func (c *PostgresReplayChecker) SettledLeg(orderID string, leg string) (bool, time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT settled_at
        FROM settlement_log.settlements
        WHERE order_id = $1 AND leg = $2
        LIMIT 1
    `

	var settledAt time.Time
	err := c.db.QueryRowContext(ctx, query, orderID, leg).Scan(&settledAt)

	if err == sql.ErrNoRows {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	return true, settledAt, nil
}

// SettledLegRow is one persisted settlement mark, loaded for warming.
type SettledLegRow struct {
	OrderID   string
	Leg       string
	SettledAt time.Time
}

// LoadSettledLegs reads every settlement mark. Called once on startup
// to warm the replay registry's memory tier.
func LoadSettledLegs(ctx context.Context, db *sql.DB) ([]SettledLegRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT order_id, leg, settled_at FROM settlement_log.settlements`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []SettledLegRow
	for rows.Next() {
		var r SettledLegRow
		if err := rows.Scan(&r.OrderID, &r.Leg, &r.SettledAt); err != nil {
			return nil, err
		}
		legs = append(legs, r)
	}
	return legs, rows.Err()
}

// MaxSequence returns the highest persisted sequence so the engine can
// resume numbering above anything already in the log.
func MaxSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx, `
        SELECT GREATEST(
            COALESCE((SELECT MAX(sequence) FROM settlement_log.settlements), 0),
            COALESCE((SELECT MAX(sequence) FROM settlement_log.entries), 0)
        )
    `).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
