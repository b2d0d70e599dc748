package container

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	infraLark "github.com/garyjia/approval-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-engine/internal/infrastructure/external/notify"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/sequence"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/migrations"
	"github.com/garyjia/approval-engine/pkg/database"
)

// StorageBundle holds the stores of the selected database driver.
type StorageBundle struct {
	Templates port.TemplateRepository
	Requests  port.RequestRepository
	Sequence  port.SequenceGenerator
	TxManager port.TransactionManager

	// Pool is set for the postgres driver only
	Pool *pgxpool.Pool

	ping  func(ctx context.Context) error
	close func() error
}

// ProvideStorage opens the configured database, applies migrations and builds the stores.
func ProvideStorage(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage, data will not survive a restart")
		return &StorageBundle{
			Templates: memory.NewTemplateStore(),
			Requests:  memory.NewRequestStore(),
			Sequence:  memory.NewSequenceStore(),
			TxManager: memory.TxManager{},
			ping:      func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil

	case config.DriverSQLite:
		sqlDB, err := database.OpenSQLite(database.Config{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if _, err := database.NewMigrator(sqlDB, database.DialectSQLite, logger).RunMigrations(ctx, migrations.SQLite()); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return sqliteBundle(sqlDB, logger), nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DSN, int32(cfg.MaxOpenConns), logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &StorageBundle{
			Templates: postgres.NewTemplateStore(db, logger),
			Requests:  postgres.NewRequestStore(db, logger),
			Sequence:  postgres.NewSequenceStore(db),
			TxManager: db,
			Pool:      db.Pool,
			ping:      db.Pool.Ping,
			close: func() error {
				db.Close()
				return nil
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func sqliteBundle(sqlDB *sql.DB, logger *zap.Logger) *StorageBundle {
	db := sqlite.NewDB(sqlDB, logger)
	return &StorageBundle{
		Templates: repository.NewTemplateRepository(db, logger),
		Requests:  repository.NewRequestRepository(db, logger),
		Sequence:  repository.NewSequenceRepository(db, logger),
		TxManager: db,
		ping:      sqlDB.PingContext,
		close:     sqlDB.Close,
	}
}

// ProvideSequence swaps in the Redis counter when enabled. The returned closer is never nil.
func ProvideSequence(ctx context.Context, cfg *config.RedisConfig, fallback port.SequenceGenerator, logger *zap.Logger) (port.SequenceGenerator, func() error, error) {
	if !cfg.Enabled {
		return fallback, func() error { return nil }, nil
	}
	client, err := sequence.NewClient(ctx, sequence.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using Redis request-number sequence", zap.String("addr", cfg.Addr))
	return sequence.NewRedisSequence(client, cfg.KeyPrefix, cfg.KeyTTL), client.Close, nil
}

// ProvideGateway returns the Lark gateway when configured, otherwise a logging gateway.
func ProvideGateway(cfg *config.LarkConfig, logger *zap.Logger) port.NotificationGateway {
	if !cfg.Enabled {
		logger.Info("Lark disabled, notifications are logged only")
		return notify.NewLogGateway(logger.Named("notify"), 200)
	}
	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
		ReceiveIDType: cfg.ReceiveIDType,
	}, logger)
	return infraLark.NewGateway(client, cfg.ReceiveIDType, logger.Named("lark"))
}

// ProvideMetrics creates a registry with process collectors and the engine recorder.
func ProvideMetrics() (*prometheus.Registry, *metrics.Recorder, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return reg, recorder, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}))
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Storage    *StorageBundle
	Sequence   port.SequenceGenerator
	Directory  *directory.StaticDirectory
	Gateway    port.NotificationGateway
	Dispatcher dispatcher.Dispatcher
	Metrics    port.MetricsRecorder
	Engine     *config.EngineConfig
	Escalation *config.EscalationConfig
	Logger     *zap.Logger
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Templates    service.TemplateService
	Approvals    service.ApprovalService
	Escalations  service.EscalationService
	Notification service.NotificationService
}

// ProvideServices creates the application services and subscribes notifications to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Storage == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	svcLogger := &zapLoggerAdapter{logger: deps.Logger}

	templates := service.NewTemplateService(deps.Storage.Templates, svcLogger)
	approvals := service.NewApprovalService(
		deps.Storage.Requests,
		templates,
		deps.Directory,
		deps.Sequence,
		deps.Storage.TxManager,
		svcLogger,
		service.WithDispatcher(deps.Dispatcher),
		service.WithMetrics(deps.Metrics),
		service.WithMaxConflictRetries(deps.Engine.MaxConflictRetries),
	)
	escalations := service.NewEscalationService(deps.Storage.Requests, approvals, svcLogger,
		service.WithSweepBatchSize(deps.Escalation.BatchSize),
		service.WithSweepConcurrency(deps.Escalation.Concurrency),
		service.WithSweepMetrics(deps.Metrics),
	)
	notification := service.NewNotificationService(deps.Gateway, deps.Metrics, svcLogger,
		deps.Engine.ActionBaseURL, service.WithEmailLookup(deps.Directory.Email))
	notification.Register(deps.Dispatcher)

	return &ServiceBundle{
		Templates:    templates,
		Approvals:    approvals,
		Escalations:  escalations,
		Notification: notification,
	}, nil
}

// ProvideWorkers registers the escalation scheduler selected by cfg.
func ProvideWorkers(cfg *config.EscalationConfig, sweeper service.EscalationService, pool *pgxpool.Pool, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger.Named("workers"))
	if !cfg.Enabled {
		logger.Info("Escalation sweep disabled")
		return manager
	}

	switch cfg.Scheduler {
	case config.SchedulerRiver:
		manager.Register(worker.NewRiverScheduler(pool, sweeper, cfg.Interval, cfg.SweepTimeout, logger.Named("river")))
	default:
		manager.Register(worker.NewEscalationWorker(sweeper, cfg.Interval, cfg.SweepTimeout, logger.Named("escalation")))
	}
	return manager
}
