package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/service"
)

// EscalationSweepArgs is the payload of the periodic sweep job
type EscalationSweepArgs struct{}

// Kind implements river.JobArgs
func (EscalationSweepArgs) Kind() string {
	return "escalation_sweep"
}

type escalationSweepWorker struct {
	river.WorkerDefaults[EscalationSweepArgs]
	sweeper service.EscalationService
	logger  *zap.Logger
}

func (w *escalationSweepWorker) Work(ctx context.Context, job *river.Job[EscalationSweepArgs]) error {
	result, err := w.sweeper.RunEscalationSweep(ctx)
	if err != nil {
		return fmt.Errorf("escalation sweep: %w", err)
	}
	w.logger.Debug("Escalation sweep job finished",
		zap.Int64("job_id", job.ID),
		zap.Int("escalated", result.Escalated))
	return nil
}

// RiverScheduler runs escalation sweeps as a river periodic job so that only
// the elected leader among replicas enqueues them
type RiverScheduler struct {
	pool     *pgxpool.Pool
	sweeper  service.EscalationService
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	client *river.Client[pgx.Tx]
}

// NewRiverScheduler creates a scheduler on pool
func NewRiverScheduler(pool *pgxpool.Pool, sweeper service.EscalationService, interval, timeout time.Duration, logger *zap.Logger) *RiverScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &RiverScheduler{
		pool:     pool,
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *RiverScheduler) Name() string {
	return "RiverEscalationScheduler"
}

// Migrate creates or upgrades river's own tables
func (s *RiverScheduler) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(s.pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}

// Start migrates river's schema, then starts a client with the periodic sweep job
func (s *RiverScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return fmt.Errorf("river scheduler is already running")
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &escalationSweepWorker{sweeper: s.sweeper, logger: s.logger})

	interval := s.interval
	client, err := river.NewClient(riverpgxv5.New(s.pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
		},
		Workers:    workers,
		JobTimeout: s.timeout,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(interval),
				func() (river.JobArgs, *river.InsertOpts) {
					return EscalationSweepArgs{}, &river.InsertOpts{
						MaxAttempts: 1,
						UniqueOpts:  river.UniqueOpts{ByPeriod: interval},
					}
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	s.client = client
	s.logger.Info("River escalation scheduler started", zap.Duration("interval", interval))
	return nil
}

// Stop waits for the running job to finish, bounded by ctx
func (s *RiverScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Stop(ctx)
	s.client = nil
	if err != nil {
		return fmt.Errorf("stop river client: %w", err)
	}
	return nil
}
