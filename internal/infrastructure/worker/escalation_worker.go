package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/service"
)

// EscalationWorker runs escalation sweeps on a fixed interval
type EscalationWorker struct {
	sweeper  service.EscalationService
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun service.SweepResult
}

// NewEscalationWorker creates a ticker-driven sweeper. Each sweep is bounded by timeout when positive.
func NewEscalationWorker(sweeper service.EscalationService, interval, timeout time.Duration, logger *zap.Logger) *EscalationWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &EscalationWorker{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (w *EscalationWorker) Name() string {
	return "EscalationWorker"
}

// Start launches the sweep loop; the first sweep runs immediately
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("escalation worker is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("EscalationWorker started", zap.Duration("interval", w.interval))
	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (w *EscalationWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastResult returns the outcome of the most recent sweep
func (w *EscalationWorker) LastResult() service.SweepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

func (w *EscalationWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *EscalationWorker) sweep(ctx context.Context) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.sweeper.RunEscalationSweep(ctx)
	w.mu.Lock()
	w.lastRun = result
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Escalation sweep failed", zap.Error(err))
	}
}
