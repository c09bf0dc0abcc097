package query

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/archon-data/chainstate/app/query/types"
	"github.com/archon-data/chainstate/pkg/db/postgres"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/logging"
	"github.com/archon-data/chainstate/pkg/notify"
	"github.com/archon-data/chainstate/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	gateway, err := postgres.NewGateway[evm.Block, evm.Transaction](
		ctx, logger, evm.BlockMapper{}, evm.TransactionMapper{},
		postgres.GetPoolConfigForComponent("query"),
	)
	if err != nil {
		logger.Fatal("Unable to initialize storage gateway", zap.Error(err))
	}

	// Best effort at startup; the cron refresh below retries every tick.
	if err := gateway.WarmCaches(ctx); err != nil {
		logger.Warn("Unable to warm identity caches", zap.Error(err))
	}

	// Initialize Redis client for real-time WebSocket events (optional)
	var redisClient *notify.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = notify.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for WebSocket real-time events")
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	app := &types.App{
		Gateway:     gateway,
		Redis:       redisClient,
		DeltaStream: utils.Env("DELTA_STREAM", notify.DefaultDeltaStream),
		Logger:      logger,
	}

	if err := setupScheduler(ctx, app); err != nil {
		logger.Fatal("Unable to set up cache refresh scheduler", zap.Error(err))
	}

	return app
}

// setupScheduler schedules the periodic identity-cache refresh so
// long-running query instances observe chains, systems and types registered
// by ingestion after startup.
func setupScheduler(ctx context.Context, app *types.App) error {
	// Seconds field, optional
	spec := utils.Env("CACHE_REFRESH_CRON", "0 * * * * *")

	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := app.Cron.AddFunc(spec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := app.Gateway.WarmCaches(rctx); err != nil {
			app.Logger.Warn("Identity cache refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	app.Logger.Info("Cache refresh scheduled", zap.String("cronSpec", spec))
	return nil
}
