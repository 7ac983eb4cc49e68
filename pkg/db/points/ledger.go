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

func (d *DB) initLedger(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS points_ledger (
			id UUID PRIMARY KEY,
			address TEXT NOT NULL,
			points_earned DOUBLE PRECISION NOT NULL CHECK (points_earned >= 0),
			balance NUMERIC(78, 0) NOT NULL,
			interval_start TIMESTAMPTZ NOT NULL,
			interval_end TIMESTAMPTZ NOT NULL,
			interval_hours DOUBLE PRECISION NOT NULL,
			rate DOUBLE PRECISION NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			window_date DATE NOT NULL,
			source TEXT NOT NULL,
			CHECK (interval_end > interval_start)
		)
	`
	if err := d.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create points_ledger table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_points_ledger_address_start ON points_ledger (address, interval_start DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_points_ledger_computed_at ON points_ledger (computed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_points_ledger_address_date ON points_ledger (address, window_date)`,
	}
	for _, idx := range indexes {
		if err := d.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create points_ledger index: %w", err)
		}
	}
	return nil
}

const insertEntrySQL = `
	INSERT INTO points_ledger (
		id, address, points_earned, balance, interval_start, interval_end,
		interval_hours, rate, computed_at, window_date, source
	) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10::date, $11)
	ON CONFLICT (id) DO NOTHING
`

func (d *DB) insertEntry(ctx context.Context, e models.PointsLedgerEntry) error {
	return d.Exec(ctx, insertEntrySQL,
		e.ID, e.Address, e.PointsEarned, e.BalanceDuringInterval.String(),
		e.IntervalStart, e.IntervalEnd, e.IntervalHours, e.Rate,
		e.ComputedAt, e.WindowDate, string(e.Source),
	)
}

// Commit writes the entry and the advanced account state in one transaction.
func (d *DB) Commit(ctx context.Context, next models.AccountBalanceState, entry *models.PointsLedgerEntry) error {
	if next.Address == "" {
		return db.ErrInvalidInput
	}
	err := d.BeginFunc(ctx, func(ctx context.Context) error {
		if entry != nil {
			if err := d.insertEntry(ctx, *entry); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		if err := d.upsertAccount(ctx, next); err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}
		return nil
	})
	return unavailable(err)
}

func (d *DB) ReplaceRange(ctx context.Context, address string, from, to time.Time, entries []models.PointsLedgerEntry) error {
	if !from.Before(to) {
		return db.ErrInvalidInput
	}
	err := d.BeginFunc(ctx, func(ctx context.Context) error {
		err := d.Exec(ctx, `
			DELETE FROM points_ledger
			WHERE address = $1 AND interval_start >= $2 AND interval_end <= $3
		`, address, from, to)
		if err != nil {
			return fmt.Errorf("delete ledger range: %w", err)
		}
		for _, e := range entries {
			if err := d.insertEntry(ctx, e); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		return nil
	})
	return unavailable(err)
}

const entryColumns = `id, address, points_earned, balance::text, interval_start, interval_end,
	interval_hours, rate, computed_at, window_date::text, source`

func scanEntry(row pgx.Row) (models.PointsLedgerEntry, error) {
	var (
		e       models.PointsLedgerEntry
		balance string
		source  string
	)
	err := row.Scan(&e.ID, &e.Address, &e.PointsEarned, &balance, &e.IntervalStart, &e.IntervalEnd,
		&e.IntervalHours, &e.Rate, &e.ComputedAt, &e.WindowDate, &source)
	if err != nil {
		return e, err
	}
	if e.BalanceDuringInterval, err = decimal.NewFromString(balance); err != nil {
		return e, fmt.Errorf("parse ledger balance: %w", err)
	}
	e.Source = models.EntrySource(source)
	e.IntervalStart = e.IntervalStart.UTC()
	e.IntervalEnd = e.IntervalEnd.UTC()
	e.ComputedAt = e.ComputedAt.UTC()
	return e, nil
}

func (d *DB) collectEntries(ctx context.Context, query string, args ...any) ([]models.PointsLedgerEntry, error) {
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []models.PointsLedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, unavailable(rows.Err())
}

func (d *DB) EntriesOverlapping(ctx context.Context, address string, from, to time.Time) ([]models.PointsLedgerEntry, error) {
	return d.collectEntries(ctx, `
		SELECT `+entryColumns+` FROM points_ledger
		WHERE address = $1 AND interval_start < $3 AND interval_end > $2
		ORDER BY interval_start
	`, address, from, to)
}

func (d *DB) ListEntries(ctx context.Context, address string, cursor *time.Time, limit int) ([]models.PointsLedgerEntry, error) {
	if cursor == nil {
		return d.collectEntries(ctx, `
			SELECT `+entryColumns+` FROM points_ledger
			WHERE address = $1
			ORDER BY interval_start DESC
			LIMIT $2
		`, address, limit)
	}
	return d.collectEntries(ctx, `
		SELECT `+entryColumns+` FROM points_ledger
		WHERE address = $1 AND interval_start < $2
		ORDER BY interval_start DESC
		LIMIT $3
	`, address, *cursor, limit)
}

func (d *DB) SumPoints(ctx context.Context, since *time.Time, until time.Time) (map[string]float64, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if since == nil {
		rows, err = d.Query(ctx, `
			SELECT address, SUM(points_earned) FROM points_ledger
			WHERE computed_at <= $1
			GROUP BY address
		`, until)
	} else {
		rows, err = d.Query(ctx, `
			SELECT address, SUM(points_earned) FROM points_ledger
			WHERE computed_at > $1 AND computed_at <= $2
			GROUP BY address
		`, *since, until)
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("sum points: %w", err))
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			addr string
			sum  float64
		)
		if err := rows.Scan(&addr, &sum); err != nil {
			return nil, err
		}
		out[addr] = sum
	}
	return out, unavailable(rows.Err())
}

func (d *DB) SumPointsByDate(ctx context.Context, address string, dates []string) (map[string]float64, error) {
	out := make(map[string]float64, len(dates))
	for _, day := range dates {
		out[day] = 0
	}
	if len(dates) == 0 {
		return out, nil
	}

	rows, err := d.Query(ctx, `
		SELECT window_date::text, SUM(points_earned) FROM points_ledger
		WHERE address = $1 AND window_date = ANY($2::date[])
		GROUP BY window_date
	`, address, dates)
	if err != nil {
		return nil, unavailable(fmt.Errorf("sum points by date: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			day string
			sum float64
		)
		if err := rows.Scan(&day, &sum); err != nil {
			return nil, err
		}
		out[day] = sum
	}
	return out, unavailable(rows.Err())
}
