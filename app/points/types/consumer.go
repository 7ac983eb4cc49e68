package types

import (
	"context"
	"errors"

	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/redis"
	"go.uber.org/zap"
)

// HandleStreamMessage applies one balance event from the Redis stream.
// Invalid and stale events are logged and acknowledged; any other failure is
// returned so the message stays pending.
func (a *App) HandleStreamMessage(ctx context.Context, msg redis.Message) error {
	ev, err := msg.BalanceEvent()
	if err == nil {
		err = a.Engine.OnBalanceChanged(ctx, ev)
	}
	if err == nil {
		return nil
	}

	var stale *accrual.StaleEventError
	switch {
	case errors.As(err, &stale):
		a.Logger.Warn("Dropping stale balance event",
			zap.String("id", msg.ID),
			zap.String("address", stale.Address),
			zap.Time("timestamp", stale.Timestamp),
			zap.Time("balance_since", stale.BalanceSince))
		return nil
	case errors.Is(err, models.ErrInvalidEvent):
		a.Logger.Warn("Dropping invalid balance event", zap.String("id", msg.ID), zap.Error(err))
		return nil
	}
	return err
}
