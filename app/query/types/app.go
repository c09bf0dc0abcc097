package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/archon-data/chainstate/pkg/db/postgres"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/notify"
)

// App holds the query service's long-lived collaborators: the storage
// gateway, the optional redis client feeding the WebSocket endpoint, and the
// cron scheduler that keeps the gateway identity caches fresh.
type App struct {
	Gateway *postgres.Gateway[evm.Block, evm.Transaction]

	// Redis is nil when REDIS_ENABLED is not "true"; the WebSocket endpoint
	// reports itself unavailable in that case.
	Redis *notify.Client

	// DeltaStream is the redis stream delta announcements are consumed from.
	DeltaStream string

	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger

	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	if a.Cron != nil {
		a.Cron.Start()
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	_ = a.Server.Shutdown(shutdownCtx)

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	a.Gateway.Close()

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
