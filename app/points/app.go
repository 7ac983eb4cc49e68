package points

import (
	"context"

	"github.com/canopy-network/pointsx/app/points/types"
	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/auth"
	"github.com/canopy-network/pointsx/pkg/config"
	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/memory"
	pointsstore "github.com/canopy-network/pointsx/pkg/db/points"
	"github.com/canopy-network/pointsx/pkg/feed"
	"github.com/canopy-network/pointsx/pkg/logging"
	"github.com/canopy-network/pointsx/pkg/ranking"
	"github.com/canopy-network/pointsx/pkg/redis"
	"github.com/canopy-network/pointsx/pkg/retry"
	"github.com/canopy-network/pointsx/pkg/txcache"
	"go.uber.org/zap"
)

// Initialize wires the store, engine, ranking service, Redis intake and
// scheduler from the environment.
func Initialize(ctx context.Context) *types.App {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	var store db.Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		store, err = pointsstore.New(ctx, logger, cfg.PostgresURL, cfg.PostgresDB)
		if err != nil {
			logger.Fatal("Unable to initialize points database", zap.Error(err))
		}
	default:
		logger.Warn("Using in-memory store; ledger is lost on restart")
		store = memory.New()
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(ctx, logger, redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("Failed to initialize Redis client - stream intake and live feed relay disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - events only arrive through /api/v1/events/sync")
	}

	hub := feed.NewHub(logger)
	var notifier accrual.Notifier = hub
	if redisClient != nil {
		notifier = redis.NewEntryPublisher(redisClient, cfg.NotifyChannel)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.LedgerRetries
	engine := accrual.New(logger, store, accrual.Config{
		Rate:     cfg.Rate,
		Decimals: cfg.Decimals,
		Workers:  cfg.Workers,
		Retry:    retryCfg,
	},
		accrual.WithTxCache(txcache.New(cfg.TxCacheSize, cfg.TxCacheTTL)),
		accrual.WithNotifier(notifier),
	)
	if _, err := engine.LoadAccounts(ctx); err != nil {
		logger.Fatal("Unable to load account states", zap.Error(err))
	}

	authenticator, err := auth.New(auth.Config{
		AdminToken:    cfg.AdminToken,
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
		SessionSecret: cfg.SessionSecret,
	})
	if err != nil {
		logger.Fatal("Unable to initialize authentication", zap.Error(err))
	}

	app := &types.App{
		Config:      cfg,
		Store:       store,
		Engine:      engine,
		Ranking:     ranking.New(logger, store, ranking.WithMaxLimit(cfg.LeaderboardLimit)),
		Auth:        authenticator,
		Feed:        hub,
		RedisClient: redisClient,
		Logger:      logger,
	}

	if redisClient != nil {
		app.Consumer, err = redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
			Stream:   cfg.EventsStream,
			Group:    cfg.EventsGroup,
			Consumer: cfg.Consumer,
			OrderKey: redis.AddressKey,
			Logger:   logger.With(zap.String("component", "consumer")),
		})
		if err != nil {
			logger.Fatal("Unable to initialize balance event consumer", zap.Error(err))
		}
	}

	if err := app.SetupScheduler(ctx, cfg.AccrualCron); err != nil {
		logger.Fatal("Unable to schedule accrual ticks", zap.Error(err), zap.String("cronSpec", cfg.AccrualCron))
	}

	return app
}
