package ranking

import (
	"context"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/shopspring/decimal"
)

// TransactionCounts tallies balance events by kind. Transfer counts both
// sides of a transfer.
type TransactionCounts struct {
	Total    int64 `json:"total"`
	Mint     int64 `json:"mint"`
	Burn     int64 `json:"burn"`
	Transfer int64 `json:"transfer"`
	Sync     int64 `json:"sync"`
}

func countsFrom(byType map[models.ChangeType]int64) TransactionCounts {
	var c TransactionCounts
	for change, n := range byType {
		c.Total += n
		switch change {
		case models.ChangeMint:
			c.Mint += n
		case models.ChangeBurn:
			c.Burn += n
		case models.ChangeTransferIn, models.ChangeTransferOut:
			c.Transfer += n
		case models.ChangeSync:
			c.Sync += n
		}
	}
	return c
}

// Overview is the service-wide summary.
type Overview struct {
	TotalUsers        int               `json:"total_users"`
	ActiveUsers       int               `json:"active_users"`
	TotalSupply       decimal.Decimal   `json:"total_supply"`
	TotalPoints       float64           `json:"total_points"`
	Points24h         float64           `json:"points_24h"`
	TotalTransactions TransactionCounts `json:"total_transactions"`
	Transactions24h   TransactionCounts `json:"transactions_24h"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// GetOverview aggregates accounts, ledger totals and event counts. Active
// users hold a nonzero balance; supply is the sum of tracked balances in
// smallest units.
func (s *Service) GetOverview(ctx context.Context) (*Overview, error) {
	now := models.NormalizeTime(s.now())
	out := &Overview{GeneratedAt: now, TotalSupply: decimal.Zero}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, &DataUnavailableError{Op: "overview", Err: err}
	}
	out.TotalUsers = len(accounts)
	for _, acc := range accounts {
		if acc.CurrentBalance.IsPositive() {
			out.ActiveUsers++
			out.TotalSupply = out.TotalSupply.Add(acc.CurrentBalance)
		}
	}

	for _, t := range []struct {
		window models.Window
		dst    *float64
	}{
		{models.WindowAll, &out.TotalPoints},
		{models.Window24h, &out.Points24h},
	} {
		sums, err := s.store.SumPoints(ctx, t.window.Since(now), now)
		if err != nil {
			return nil, &DataUnavailableError{Op: "overview", Err: err}
		}
		for _, p := range sums {
			*t.dst += p
		}
	}

	all, err := s.store.CountEvents(ctx, time.Unix(0, 0).UTC(), now.Add(time.Microsecond))
	if err != nil {
		return nil, &DataUnavailableError{Op: "overview", Err: err}
	}
	day, err := s.store.CountEvents(ctx, now.Add(-24*time.Hour), now.Add(time.Microsecond))
	if err != nil {
		return nil, &DataUnavailableError{Op: "overview", Err: err}
	}
	out.TotalTransactions = countsFrom(all)
	out.Transactions24h = countsFrom(day)
	return out, nil
}
