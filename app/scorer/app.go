package scorer

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/repledger/app/scorer/types"
	"github.com/canopy-network/repledger/pkg/db/clickhouse"
	"github.com/canopy-network/repledger/pkg/db/ledgerdb"
	"github.com/canopy-network/repledger/pkg/ingest"
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/logging"
	"github.com/canopy-network/repledger/pkg/ranking"
	"github.com/canopy-network/repledger/pkg/registry"
	"github.com/canopy-network/repledger/pkg/reward"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"github.com/canopy-network/repledger/pkg/settings"
	"github.com/canopy-network/repledger/pkg/temporal"
	"github.com/canopy-network/repledger/pkg/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Initialize builds the scorer from environment variables.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("scorer")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	app := &types.App{
		Settings:      settings.NewStore(),
		Registry:      registry.NewMemory(),
		Hub:           reward.NewHub(logging.Component(logger, "hub"), 256),
		SchedulerTick: utils.EnvDuration("SCHEDULER_TICK", time.Second),
		RankingSpec:   utils.Env("RANKING_CRON", "0 0 * * * *"),
		WatchdogSpec:  utils.Env("WATCHDOG_CRON", "*/30 * * * * *"),
		FamilyPool:    pond.NewPool(len(ranking.Sets)),
		Logger:        logger,
	}

	if utils.EnvBool("SETTINGS_SEED", false) {
		n := app.Settings.Seed(settings.Defaults())
		logger.Info("Seeded score settings", zap.Int("written", n))
	}

	switch backend := utils.Env("SCHEDULER_BACKEND", "memory"); backend {
	case "temporal":
		app.Temporal, err = temporal.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to establish temporal connection", zap.Error(err))
		}
		if err := app.Temporal.EnsureNamespace(ctx, 7*24*time.Hour); err != nil {
			logger.Fatal("Unable to ensure temporal namespace", zap.Error(err))
		}
		ts := scheduler.NewTemporal(logging.Component(logger, "scheduler"), app.Temporal.TClient, scheduler.TemporalOptions{
			TaskQueue: app.Temporal.SchedulerQueue,
			Tick:      app.SchedulerTick,
			MaxRuns:   utils.EnvInt("SCHEDULER_MAX_RUNS", 0),
		})
		app.Scheduler = ts
		app.Worker = ts.NewWorker()
	case "memory":
		app.Memory = scheduler.NewMemory(logging.Component(logger, "scheduler"))
		app.Scheduler = app.Memory
	default:
		logger.Fatal("Unknown scheduler backend", zap.String("backend", backend))
	}

	opts := ledger.Options{
		Logger:    logging.Component(logger, "ledger"),
		Settings:  app.Settings,
		Registry:  app.Registry,
		Scheduler: app.Scheduler,
		Symbol:    utils.Env("LEDGER_SYMBOL", "SEEDS"),
	}

	if utils.Env("PERSISTENCE", "none") == "clickhouse" {
		dbName := clickhouse.SanitizeName(utils.Env("LEDGER_DB", "repledger"))
		app.DBClient, err = clickhouse.New(ctx, logging.Component(logger, "clickhouse"), dbName, clickhouse.GetPoolConfigForComponent("scorer"))
		if err != nil {
			logger.Fatal("Unable to initialize ledger database", zap.Error(err))
		}
		app.Store = ledgerdb.New(app.DBClient, dbName, utils.EnvInt("LEDGER_DB_WRITERS", 4), logging.Component(logger, "ledgerdb"))
		if err := app.Store.InitializeDB(ctx); err != nil {
			logger.Fatal("Unable to initialize ledger tables", zap.Error(err))
		}
		opts.Sink = app.Store
		opts.TransferLog = app.Store
	}

	notifiers := reward.Fanout{}
	if utils.EnvBool("REDIS_ENABLED", false) {
		app.Redis, err = reward.NewRedisNotifier(ctx, logging.Component(logger, "redis"))
		if err != nil {
			logger.Warn("Failed to initialize Redis - points events stay in-process", zap.Error(err))
			app.Redis = nil
		}
	}
	if app.Redis != nil {
		// the relay feeds the hub, so local subscribers see every replica's events
		notifiers = append(notifiers, app.Redis)
	} else {
		notifiers = append(notifiers, app.Hub)
	}
	opts.Notifier = notifiers

	app.Ledger, err = ledger.New(opts)
	if err != nil {
		logger.Fatal("Unable to initialize ledger", zap.Error(err))
	}
	app.Engine = ranking.New(logging.Component(logger, "ranking"), app.Ledger, app.Registry)

	if app.Store != nil {
		snap, err := app.Store.Load(ctx)
		if err != nil {
			logger.Fatal("Unable to load ledger snapshot", zap.Error(err))
		}
		if err := app.Ledger.Restore(snap); err != nil {
			logger.Fatal("Unable to restore ledger", zap.Error(err))
		}
		if err := app.Engine.Restore(snap); err != nil {
			logger.Fatal("Unable to restore ranked sets", zap.Error(err))
		}
		// settings and accounts are not persisted, so a restart starts with an empty registry
		missing, err := app.UnregisteredAccounts(ctx, snap)
		if err != nil {
			logger.Fatal("Unable to check restored accounts", zap.Error(err))
		}
		if len(missing) > 0 {
			logger.Warn("Restored ledger references unregistered accounts; their transfers are ignored until they are upserted",
				zap.Int("accounts", len(missing)),
				zap.Strings("sample", missing[:min(len(missing), 10)]))
		}
	}

	if utils.EnvBool("KAFKA_ENABLED", false) {
		app.Consumer, err = ingest.NewConsumer(ingest.Config{
			Brokers: utils.SplitCSV(utils.Env("KAFKA_BROKERS", "localhost:9092")),
			Group:   utils.Env("KAFKA_GROUP", "repledger-scorer"),
			Topic:   utils.Env("KAFKA_TOPIC", "transfers"),
		}, app.Ledger, logging.Component(logger, "ingest"))
		if err != nil {
			logger.Fatal("Unable to initialize transfer consumer", zap.Error(err))
		}
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		logger.Fatal("Unable to set up cron", zap.Error(err))
	}

	return app
}
