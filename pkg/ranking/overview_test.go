package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/memory"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverview(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, addr(1), now.Add(-2*time.Hour), 10)
	seed(t, store, addr(2), now.Add(-48*time.Hour), 30)
	require.NoError(t, store.Commit(ctx, models.AccountBalanceState{Address: addr(3), CurrentBalance: decimal.Zero, BalanceSince: now}, nil))

	for _, e := range []models.BalanceEvent{
		{Address: addr(1), ChangeType: models.ChangeMint, Timestamp: now.Add(-time.Hour)},
		{Address: addr(1), ChangeType: models.ChangeTransferOut, Timestamp: now.Add(-30 * time.Minute)},
		{Address: addr(2), ChangeType: models.ChangeTransferIn, Timestamp: now.Add(-30 * time.Minute)},
		{Address: addr(3), ChangeType: models.ChangeBurn, Timestamp: now.Add(-72 * time.Hour)},
		{Address: addr(3), ChangeType: models.ChangeSync, Timestamp: now.Add(-73 * time.Hour)},
	} {
		require.NoError(t, store.AppendEvent(ctx, &e))
	}

	got, err := newService(t, store).GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalUsers)
	assert.Equal(t, 2, got.ActiveUsers)
	assert.True(t, got.TotalSupply.Equal(decimal.NewFromInt(2).Shift(18)), got.TotalSupply.String())
	assert.InDelta(t, 40, got.TotalPoints, 1e-9)
	assert.InDelta(t, 10, got.Points24h, 1e-9)
	assert.Equal(t, TransactionCounts{Total: 5, Mint: 1, Burn: 1, Transfer: 2, Sync: 1}, got.TotalTransactions)
	assert.Equal(t, TransactionCounts{Total: 3, Mint: 1, Transfer: 2}, got.Transactions24h)
	assert.Equal(t, now, got.GeneratedAt)
}

type countFailStore struct{ *memory.Store }

func (countFailStore) CountEvents(context.Context, time.Time, time.Time) (map[models.ChangeType]int64, error) {
	return nil, db.ErrUnavailable
}

func TestOverviewStoreFailure(t *testing.T) {
	_, err := newService(t, countFailStore{memory.New()}).GetOverview(context.Background())

	var unavailable *DataUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, db.ErrUnavailable)
}
