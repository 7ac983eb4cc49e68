package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/auth"
	"github.com/canopy-network/pointsx/pkg/config"
	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/feed"
	"github.com/canopy-network/pointsx/pkg/ranking"
	"github.com/canopy-network/pointsx/pkg/redis"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config

	// Persistence (memory or postgres)
	Store db.Store

	// Domain services
	Engine  *accrual.Engine
	Ranking *ranking.Service
	Auth    *auth.Authenticator

	// Live ledger entry feed for websocket clients
	Feed *feed.Hub

	// Redis Client, nil when REDIS_ENABLED is false
	RedisClient *redis.Client
	Consumer    *redis.StreamConsumer

	// Cron drives accrual ticks
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger
	Server *http.Server
}

// Start runs the scheduler, the stream consumer and the HTTP server until
// ctx is cancelled, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Accrual scheduler started", zap.String("cronSpec", a.CronSpec))
	}

	if a.Consumer != nil {
		go func() {
			err := a.Consumer.Run(ctx, a.HandleStreamMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("Balance event consumer stopped", zap.Error(err))
			}
		}()
	}
	if a.RedisClient != nil && a.Feed != nil {
		go a.Feed.Relay(ctx, a.RedisClient, a.Config.NotifyChannel)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	<-ctx.Done()

	if a.Cron != nil {
		a.Logger.Info("Stopping accrual scheduler")
		<-a.Cron.Stop().Done()
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Logger.Info("closing store")
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close store", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
