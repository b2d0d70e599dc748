package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// SweepResult summarizes one escalation sweep
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
}

// EscalationService finds stalled levels and escalates them
type EscalationService interface {
	RunEscalationSweep(ctx context.Context) (SweepResult, error)
}

type escalationServiceImpl struct {
	requestRepo port.RequestRepository
	approvals   ApprovalService
	metrics     port.MetricsRecorder
	logger      Logger
	now         func() time.Time
	batchSize   int
	concurrency int
}

// EscalationOption configures the escalation service
type EscalationOption func(*escalationServiceImpl)

// WithSweepBatchSize sets how many requests are read per page
func WithSweepBatchSize(n int) EscalationOption {
	return func(s *escalationServiceImpl) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepConcurrency bounds how many requests are escalated in parallel
func WithSweepConcurrency(n int) EscalationOption {
	return func(s *escalationServiceImpl) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSweepClock overrides the time source used to pre-filter candidates
func WithSweepClock(now func() time.Time) EscalationOption {
	return func(s *escalationServiceImpl) {
		s.now = now
	}
}

// WithSweepMetrics records sweep durations and counts
func WithSweepMetrics(m port.MetricsRecorder) EscalationOption {
	return func(s *escalationServiceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewEscalationService creates a new EscalationService
func NewEscalationService(requestRepo port.RequestRepository, approvals ApprovalService, logger Logger, opts ...EscalationOption) EscalationService {
	s := &escalationServiceImpl{
		requestRepo: requestRepo,
		approvals:   approvals,
		metrics:     port.NopMetrics{},
		logger:      logger,
		now:         time.Now,
		batchSize:   100,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunEscalationSweep pages through In Progress requests and escalates those past their level deadline.
// One failing request does not stop the sweep.
func (s *escalationServiceImpl) RunEscalationSweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var scanned, escalated, failed atomic.Int64

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return s.finish(start, &scanned, &escalated, &failed), err
		}

		page, err := s.requestRepo.ListInProgress(ctx, afterID, s.batchSize)
		if err != nil {
			return s.finish(start, &scanned, &escalated, &failed), fmt.Errorf("failed to list in-progress requests: %w", err)
		}
		if len(page) == 0 {
			break
		}

		now := s.now()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, req := range page {
			scanned.Add(1)
			if !workflow.EscalationDue(req, now) {
				continue
			}
			id, number := req.ID, req.RequestNumber
			g.Go(func() error {
				ok, err := s.approvals.Escalate(gctx, id)
				if err != nil {
					failed.Add(1)
					s.logger.Error("Failed to escalate request", "id", id, "request_number", number, "error", err)
					return nil
				}
				if ok {
					escalated.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		afterID = page[len(page)-1].ID
		if len(page) < s.batchSize {
			break
		}
	}

	result := s.finish(start, &scanned, &escalated, &failed)
	s.logger.Info("Escalation sweep finished",
		"scanned", result.Scanned,
		"escalated", result.Escalated,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *escalationServiceImpl) finish(start time.Time, scanned, escalated, failed *atomic.Int64) SweepResult {
	result := SweepResult{
		Scanned:   int(scanned.Load()),
		Escalated: int(escalated.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.SweepObserved(time.Since(start), result.Scanned, result.Escalated, result.Failed)
	return result
}
