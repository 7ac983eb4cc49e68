package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// DataUnavailableError reports that the ledger could not be read.
type DataUnavailableError struct {
	Op  string
	Err error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s: ledger data unavailable: %v", e.Op, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// Store is the read side the ranking service needs.
type Store interface {
	db.AccountStore
	db.LedgerStore
	CountEvents(ctx context.Context, since, until time.Time) (map[models.ChangeType]int64, error)
}

// Service derives leaderboards and growth figures from the ledger on every
// call; nothing is cached between reads.
type Service struct {
	logger   *zap.Logger
	store    Store
	maxLimit int
	now      func() time.Time
}

type Option func(*Service)

// WithMaxLimit lowers the leaderboard size cap.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 && n < MaxLimit {
			s.maxLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(logger *zap.Logger, store Store, opts ...Option) *Service {
	s := &Service{
		logger:   logger.With(zap.String("component", "ranking")),
		store:    store,
		maxLimit: MaxLimit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClampLimit applies the default and bounds to a requested leaderboard size.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// GetLeaderboard ranks addresses by points earned in window, highest first.
// Ties are broken by address so the order is stable across calls.
func (s *Service) GetLeaderboard(ctx context.Context, limit int, window models.Window) ([]models.LeaderboardEntry, error) {
	limit = s.ClampLimit(limit)
	board, err := s.rank(ctx, window, models.NormalizeTime(s.now()))
	if err != nil {
		return nil, err
	}
	if len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

type windowSums struct {
	all, day, week, month map[string]float64
}

func (w windowSums) pick(window models.Window) map[string]float64 {
	switch window {
	case models.Window24h:
		return w.day
	case models.Window7d:
		return w.week
	case models.Window30d:
		return w.month
	}
	return w.all
}

func (s *Service) sums(ctx context.Context, op string, now time.Time) (windowSums, error) {
	var out windowSums
	targets := []struct {
		window models.Window
		dst    *map[string]float64
	}{
		{models.WindowAll, &out.all},
		{models.Window24h, &out.day},
		{models.Window7d, &out.week},
		{models.Window30d, &out.month},
	}
	for _, t := range targets {
		m, err := s.store.SumPoints(ctx, t.window.Since(now), now)
		if err != nil {
			return out, &DataUnavailableError{Op: op, Err: err}
		}
		*t.dst = m
	}
	return out, nil
}

func (s *Service) rank(ctx context.Context, window models.Window, now time.Time) ([]models.LeaderboardEntry, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, &DataUnavailableError{Op: "leaderboard", Err: err}
	}
	sums, err := s.sums(ctx, "leaderboard", now)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(accounts))
	for _, acc := range accounts {
		balances[acc.Address] = acc.CurrentBalance
	}
	for addr := range sums.all {
		if _, ok := balances[addr]; !ok {
			balances[addr] = decimal.Zero
		}
	}

	primary := sums.pick(window)
	board := make([]models.LeaderboardEntry, 0, len(balances))
	for addr, bal := range balances {
		board = append(board, models.LeaderboardEntry{
			Address:     addr,
			TotalPoints: primary[addr],
			TodayPoints: sums.day[addr],
			WeekPoints:  sums.week[addr],
			MonthPoints: sums.month[addr],
			Balance:     bal,
		})
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].TotalPoints != board[j].TotalPoints {
			return board[i].TotalPoints > board[j].TotalPoints
		}
		return board[i].Address < board[j].Address
	})
	for i := range board {
		board[i].Rank = i + 1
	}

	s.logger.Debug("Leaderboard ranked",
		zap.String("window", string(window)),
		zap.Int("addresses", len(board)),
	)
	return board, nil
}

// GrowthRate is the percentage change from yesterday to today. With nothing
// earned yesterday any gain counts as 100%.
func GrowthRate(today, yesterday float64) float64 {
	if yesterday == 0 {
		if today > 0 {
			return 100
		}
		return 0
	}
	return (today - yesterday) / yesterday * 100
}

// GetGrowthRate compares the address's points in today's and yesterday's
// UTC calendar day.
func (s *Service) GetGrowthRate(ctx context.Context, address string) (float64, error) {
	today, yesterday, err := s.dailyPoints(ctx, address, s.now())
	if err != nil {
		return 0, err
	}
	return GrowthRate(today, yesterday), nil
}

func (s *Service) dailyPoints(ctx context.Context, address string, now time.Time) (float64, float64, error) {
	todayKey := models.DateKey(now)
	yesterdayKey := models.DateKey(now.UTC().AddDate(0, 0, -1))
	byDate, err := s.store.SumPointsByDate(ctx, address, []string{todayKey, yesterdayKey})
	if err != nil {
		return 0, 0, &DataUnavailableError{Op: "growth", Err: err}
	}
	return byDate[todayKey], byDate[yesterdayKey], nil
}

// UserSummary is one address's standing.
type UserSummary struct {
	Address      string          `json:"address"`
	Balance      decimal.Decimal `json:"balance"`
	BalanceSince time.Time       `json:"balance_since"`
	TotalPoints  float64         `json:"total_points"`
	TodayPoints  float64         `json:"today_points"`
	WeekPoints   float64         `json:"week_points"`
	MonthPoints  float64         `json:"month_points"`
	GrowthRate   float64         `json:"growth_rate"`
	Rank         int             `json:"rank"`
}

// GetUserSummary returns db.ErrNotFound for addresses never seen.
func (s *Service) GetUserSummary(ctx context.Context, address string) (*UserSummary, error) {
	now := models.NormalizeTime(s.now())

	acc, err := s.store.GetAccount(ctx, address)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, &DataUnavailableError{Op: "user summary", Err: err}
	}

	board, err := s.rank(ctx, models.WindowAll, now)
	if err != nil {
		return nil, err
	}
	summary := &UserSummary{Address: address}
	found := false
	for _, entry := range board {
		if entry.Address != address {
			continue
		}
		found = true
		summary.Rank = entry.Rank
		summary.Balance = entry.Balance
		summary.TotalPoints = entry.TotalPoints
		summary.TodayPoints = entry.TodayPoints
		summary.WeekPoints = entry.WeekPoints
		summary.MonthPoints = entry.MonthPoints
		break
	}
	if !found && acc == nil {
		return nil, fmt.Errorf("user %s: %w", address, db.ErrNotFound)
	}
	if acc != nil {
		summary.Balance = acc.CurrentBalance
		summary.BalanceSince = acc.BalanceSince
	}

	today, yesterday, err := s.dailyPoints(ctx, address, now)
	if err != nil {
		return nil, err
	}
	summary.GrowthRate = GrowthRate(today, yesterday)
	return summary, nil
}
