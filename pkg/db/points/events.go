package points

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (d *DB) initEvents(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS balance_events (
			id BIGSERIAL PRIMARY KEY,
			address TEXT NOT NULL,
			new_balance NUMERIC(78, 0) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			change_type TEXT NOT NULL,
			block_number BIGINT NOT NULL DEFAULT 0,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if err := d.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create balance_events table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_balance_events_address_time ON balance_events (address, event_time)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_events_tx ON balance_events (tx_hash, address) WHERE tx_hash <> ''`,
	}
	for _, idx := range indexes {
		if err := d.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create balance_events index: %w", err)
		}
	}
	return nil
}

// AppendEvent stores e and sets its ID. A repeated (tx_hash, address) pair
// keeps the first row and returns its ID.
func (d *DB) AppendEvent(ctx context.Context, e *models.BalanceEvent) error {
	if e == nil {
		return db.ErrInvalidInput
	}
	received := e.ReceivedAt
	if received.IsZero() {
		received = models.NormalizeTime(time.Now())
	}
	row := d.QueryRow(ctx, `
		INSERT INTO balance_events (address, new_balance, event_time, tx_hash, change_type, block_number, received_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, address) WHERE tx_hash <> '' DO UPDATE SET tx_hash = EXCLUDED.tx_hash
		RETURNING id, received_at
	`, e.Address, e.NewBalance.String(), e.Timestamp, e.TxHash, string(e.ChangeType), int64(e.BlockNumber), received)
	if err := row.Scan(&e.ID, &e.ReceivedAt); err != nil {
		return unavailable(fmt.Errorf("append event: %w", err))
	}
	e.ReceivedAt = e.ReceivedAt.UTC()
	return nil
}

const eventColumns = `id, address, new_balance::text, event_time, tx_hash, change_type, block_number, received_at`

func scanEvent(row pgx.Row) (models.BalanceEvent, error) {
	var (
		e       models.BalanceEvent
		balance string
		change  string
		block   int64
	)
	err := row.Scan(&e.ID, &e.Address, &balance, &e.Timestamp, &e.TxHash, &change, &block, &e.ReceivedAt)
	if err != nil {
		return e, err
	}
	if e.NewBalance, err = decimal.NewFromString(balance); err != nil {
		return e, fmt.Errorf("parse event balance: %w", err)
	}
	e.ChangeType = models.ChangeType(change)
	e.BlockNumber = uint64(block)
	e.Timestamp = e.Timestamp.UTC()
	e.ReceivedAt = e.ReceivedAt.UTC()
	return e, nil
}

func (d *DB) collectEvents(ctx context.Context, query string, args ...any) ([]models.BalanceEvent, error) {
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []models.BalanceEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, unavailable(rows.Err())
}

func (d *DB) ListEvents(ctx context.Context, f db.EventFilter) ([]models.BalanceEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM balance_events WHERE true`
	var args []any
	if f.Address != "" {
		args = append(args, f.Address)
		query += fmt.Sprintf(" AND address = $%d", len(args))
	}
	if f.Cursor > 0 {
		args = append(args, f.Cursor)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))
	return d.collectEvents(ctx, query, args...)
}

func (d *DB) EventsForAddress(ctx context.Context, address string, until time.Time) ([]models.BalanceEvent, error) {
	return d.collectEvents(ctx, `
		SELECT `+eventColumns+` FROM balance_events
		WHERE address = $1 AND event_time < $2
		ORDER BY event_time, id
	`, address, until)
}

func (d *DB) CountEvents(ctx context.Context, since, until time.Time) (map[models.ChangeType]int64, error) {
	rows, err := d.Query(ctx, `
		SELECT change_type, count(*) FROM balance_events
		WHERE event_time >= $1 AND event_time < $2
		GROUP BY change_type
	`, since, until)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make(map[models.ChangeType]int64)
	for rows.Next() {
		var (
			change string
			n      int64
		)
		if err := rows.Scan(&change, &n); err != nil {
			return nil, unavailable(err)
		}
		out[models.ChangeType(change)] = n
	}
	return out, unavailable(rows.Err())
}
