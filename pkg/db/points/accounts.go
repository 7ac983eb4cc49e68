package points

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/postgres"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (d *DB) initAccounts(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS account_balances (
			address TEXT PRIMARY KEY,
			balance NUMERIC(78, 0) NOT NULL CHECK (balance >= 0),
			balance_since TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	if err := d.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create account_balances table: %w", err)
	}
	return nil
}

const accountColumns = `address, balance::text, balance_since, updated_at`

func scanAccount(row pgx.Row) (models.AccountBalanceState, error) {
	var (
		acc     models.AccountBalanceState
		balance string
	)
	if err := row.Scan(&acc.Address, &balance, &acc.BalanceSince, &acc.UpdatedAt); err != nil {
		return acc, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return acc, fmt.Errorf("parse balance of %s: %w", acc.Address, err)
	}
	acc.CurrentBalance = parsed
	acc.BalanceSince = acc.BalanceSince.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return acc, nil
}

func (d *DB) GetAccount(ctx context.Context, address string) (*models.AccountBalanceState, error) {
	row := d.QueryRow(ctx, `SELECT `+accountColumns+` FROM account_balances WHERE address = $1`, address)
	acc, err := scanAccount(row)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, db.ErrNotFound
		}
		return nil, unavailable(fmt.Errorf("get account %s: %w", address, err))
	}
	return &acc, nil
}

func (d *DB) ListAccounts(ctx context.Context) ([]models.AccountBalanceState, error) {
	rows, err := d.Query(ctx, `SELECT `+accountColumns+` FROM account_balances ORDER BY address`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list accounts: %w", err))
	}
	defer rows.Close()

	var out []models.AccountBalanceState
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, unavailable(rows.Err())
}

func (d *DB) upsertAccount(ctx context.Context, acc models.AccountBalanceState) error {
	updated := acc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return d.Exec(ctx, `
		INSERT INTO account_balances (address, balance, balance_since, updated_at)
		VALUES ($1, $2::numeric, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			balance = EXCLUDED.balance,
			balance_since = EXCLUDED.balance_since,
			updated_at = EXCLUDED.updated_at
	`, acc.Address, acc.CurrentBalance.String(), acc.BalanceSince, updated)
}
