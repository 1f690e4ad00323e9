package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/repledger/pkg/db/clickhouse"
	"github.com/canopy-network/repledger/pkg/db/ledgerdb"
	"github.com/canopy-network/repledger/pkg/ingest"
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/ranking"
	"github.com/canopy-network/repledger/pkg/registry"
	"github.com/canopy-network/repledger/pkg/reward"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"github.com/canopy-network/repledger/pkg/settings"
	"github.com/canopy-network/repledger/pkg/temporal"
	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// User is an admin login.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	// Core state
	Ledger   *ledger.Ledger
	Engine   *ranking.Engine
	Settings *settings.Store
	Registry *registry.Memory

	// Scheduler backend; exactly one of Memory or Worker drives it.
	Scheduler     scheduler.Scheduler
	Memory        *scheduler.Memory
	SchedulerTick time.Duration
	Worker        worker.Worker
	Temporal      *temporal.Client

	// Persistence (optional)
	DBClient *clickhouse.Client
	Store    *ledgerdb.DB

	// Notifications
	Hub   *reward.Hub
	Redis *reward.RedisNotifier

	// Transfer ingestion (optional)
	Consumer *ingest.Consumer

	// Cron triggers ranking families and the watchdog.
	Cron         *cron.Cron
	RankingSpec  string
	WatchdogSpec string
	// FamilyPool fans one cron tick out over the ranking families.
	FamilyPool pond.Pool

	Logger *zap.Logger
	Server *http.Server
}

// Start runs every background loop and the HTTP server, and blocks until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Worker != nil {
		if err := a.Worker.Start(); err != nil {
			a.Logger.Fatal("Unable to start scheduler worker", zap.Error(err))
		}
		a.Logger.Info("Scheduler worker started", zap.String("queue", a.Temporal.SchedulerQueue))
	}
	if a.Memory != nil {
		go a.Memory.Run(ctx, a.SchedulerTick)
	}
	if a.Redis != nil {
		go func() {
			if err := a.Redis.Relay(ctx, a.Hub); err != nil {
				a.Logger.Error("Redis relay stopped", zap.Error(err))
			}
		}()
	}
	if a.Consumer != nil {
		go func() {
			if err := a.Consumer.Run(ctx); err != nil {
				a.Logger.Error("Transfer consumer stopped", zap.Error(err))
			}
		}()
	}
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Cron started", zap.String("ranking", a.RankingSpec), zap.String("watchdog", a.WatchdogSpec))
	}

	go func() {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()
	a.Stop()
}

// Stop shuts everything down in reverse start order.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		_ = a.Server.Shutdown(shutdownCtx)
	}
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	if a.FamilyPool != nil {
		a.FamilyPool.StopAndWait()
	}
	if a.Consumer != nil {
		if err := a.Consumer.Close(); err != nil {
			a.Logger.Warn("closing transfer consumer", zap.Error(err))
		}
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Temporal != nil {
		a.Temporal.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.DBClient != nil {
		a.Logger.Info("closing ledger database connection")
		if err := a.DBClient.Close(); err != nil {
			a.Logger.Warn("closing ledger database", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
