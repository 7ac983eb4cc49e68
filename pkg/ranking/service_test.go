package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/memory"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func addr(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

// seed writes one entry for address ending at end with exactly points,
// using a 1-token balance for one hour at the given rate.
func seed(t *testing.T, s *memory.Store, address string, end time.Time, points float64) {
	t.Helper()
	e := models.NewLedgerEntry(address, decimal.NewFromInt(1).Shift(18), end.Add(-time.Hour), end, points, 18, models.SourceTick)
	state := models.AccountBalanceState{Address: address, CurrentBalance: decimal.NewFromInt(1).Shift(18), BalanceSince: end}
	require.NoError(t, s.Commit(context.Background(), state, &e))
}

func newService(t *testing.T, store Store, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(zaptest.NewLogger(t), store, opts...)
}

func TestLeaderboardOrderAndTies(t *testing.T) {
	store := memory.New()
	seed(t, store, addr(3), now.Add(-time.Hour), 10)
	seed(t, store, addr(1), now.Add(-time.Hour), 10)
	seed(t, store, addr(2), now.Add(-time.Hour), 30)
	require.NoError(t, store.Commit(context.Background(), models.AccountBalanceState{Address: addr(4), BalanceSince: now}, nil))

	svc := newService(t, store)
	board, err := svc.GetLeaderboard(context.Background(), 0, models.WindowAll)
	require.NoError(t, err)
	require.Len(t, board, 4)

	assert.Equal(t, addr(2), board[0].Address)
	assert.Equal(t, addr(1), board[1].Address)
	assert.Equal(t, addr(3), board[2].Address)
	assert.Equal(t, addr(4), board[3].Address)
	assert.Zero(t, board[3].TotalPoints)
	for i, e := range board {
		assert.Equal(t, i+1, e.Rank)
	}

	again, err := svc.GetLeaderboard(context.Background(), 0, models.WindowAll)
	require.NoError(t, err)
	assert.Equal(t, board, again)
}

func TestLeaderboardLimit(t *testing.T) {
	store := memory.New()
	for i := 1; i <= 60; i++ {
		seed(t, store, addr(i), now.Add(-time.Hour), float64(i))
	}
	svc := newService(t, store)

	cases := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{5, 5},
		{1, 1},
		{5000, 60},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.limit), func(t *testing.T) {
			board, err := svc.GetLeaderboard(context.Background(), tc.limit, models.WindowAll)
			require.NoError(t, err)
			assert.Len(t, board, tc.want)
			for i := 1; i < len(board); i++ {
				assert.GreaterOrEqual(t, board[i-1].TotalPoints, board[i].TotalPoints)
			}
		})
	}

	capped := newService(t, store, WithMaxLimit(10))
	board, err := capped.GetLeaderboard(context.Background(), 500, models.WindowAll)
	require.NoError(t, err)
	assert.Len(t, board, 10)
	assert.Equal(t, 1000, svc.ClampLimit(1001))
}

func TestLeaderboardWindows(t *testing.T) {
	store := memory.New()
	seed(t, store, addr(1), now.Add(-2*time.Hour), 5)
	seed(t, store, addr(1), now.Add(-3*24*time.Hour), 7)
	seed(t, store, addr(1), now.Add(-20*24*time.Hour), 11)
	seed(t, store, addr(1), now.Add(-40*24*time.Hour), 13)
	seed(t, store, addr(2), now.Add(-40*24*time.Hour), 100)

	svc := newService(t, store)

	board, err := svc.GetLeaderboard(context.Background(), 10, models.Window24h)
	require.NoError(t, err)
	require.Equal(t, addr(1), board[0].Address)
	e := board[0]
	assert.InDelta(t, 5, e.TotalPoints, 1e-9)
	assert.InDelta(t, 5, e.TodayPoints, 1e-9)
	assert.InDelta(t, 12, e.WeekPoints, 1e-9)
	assert.InDelta(t, 23, e.MonthPoints, 1e-9)

	board, err = svc.GetLeaderboard(context.Background(), 10, models.WindowAll)
	require.NoError(t, err)
	assert.Equal(t, addr(2), board[0].Address)
	assert.InDelta(t, 36, board[1].TotalPoints, 1e-9)
}

func TestGrowthRate(t *testing.T) {
	assert.Equal(t, 100.0, GrowthRate(5, 0))
	assert.Equal(t, 0.0, GrowthRate(0, 0))
	assert.Equal(t, 50.0, GrowthRate(15, 10))
	assert.Equal(t, -100.0, GrowthRate(0, 10))

	store := memory.New()
	yesterday := time.Date(2026, 6, 9, 10, 0, 0, 0, time.UTC)
	today := time.Date(2026, 6, 10, 3, 0, 0, 0, time.UTC)
	seed(t, store, addr(1), yesterday, 4)
	seed(t, store, addr(1), today, 6)
	seed(t, store, addr(2), today, 3)

	svc := newService(t, store)
	rate, err := svc.GetGrowthRate(context.Background(), addr(1))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rate, 1e-9)

	rate, err = svc.GetGrowthRate(context.Background(), addr(2))
	require.NoError(t, err)
	assert.Equal(t, 100.0, rate)

	rate, err = svc.GetGrowthRate(context.Background(), addr(9))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)
}

func TestUserSummary(t *testing.T) {
	store := memory.New()
	seed(t, store, addr(1), now.Add(-time.Hour), 10)
	seed(t, store, addr(2), now.Add(-time.Hour), 20)
	svc := newService(t, store)

	sum, err := svc.GetUserSummary(context.Background(), addr(1))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rank)
	assert.InDelta(t, 10, sum.TotalPoints, 1e-9)
	assert.Equal(t, 100.0, sum.GrowthRate)
	assert.True(t, sum.Balance.Equal(decimal.NewFromInt(1).Shift(18)))

	_, err = svc.GetUserSummary(context.Background(), addr(7))
	require.ErrorIs(t, err, db.ErrNotFound)
}

type brokenStore struct{ *memory.Store }

func (brokenStore) SumPoints(context.Context, *time.Time, time.Time) (map[string]float64, error) {
	return nil, db.ErrUnavailable
}

func TestStoreFailureIsDataUnavailable(t *testing.T) {
	svc := newService(t, brokenStore{memory.New()})
	_, err := svc.GetLeaderboard(context.Background(), 10, models.WindowAll)

	var unavailable *DataUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, db.ErrUnavailable)
}
