package types

import (
	"context"
	"time"

	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SetupScheduler registers the accrual tick under cronSpec (seconds field
// enabled, UTC).
func (a *App) SetupScheduler(ctx context.Context, cronSpec string) error {
	logger := logging.NewCronLogger(a.Logger.With(zap.String("component", "scheduler")))
	a.Cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	a.CronSpec = cronSpec

	_, err := a.Cron.AddFunc(cronSpec, func() {
		if _, err := a.RunTick(ctx); err != nil {
			a.Logger.Error("Accrual tick failed", zap.Error(err))
		}
	})
	return err
}

// RunTick finalizes intervals up to now minus the settle delay.
func (a *App) RunTick(ctx context.Context) (accrual.TickResult, error) {
	cutoff := time.Now().Add(-a.Config.SettleDelay)
	res, err := a.Engine.Tick(ctx, cutoff)
	a.Logger.Info("Accrual tick complete",
		zap.Time("cutoff", cutoff.UTC()),
		zap.Int("accounts", res.Accounts),
		zap.Int("entries", res.Entries),
		zap.Int("failed", res.Failed),
		zap.Float64("points", res.Points),
	)
	return res, err
}
