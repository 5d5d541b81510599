package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/pkg/jobs"
)

// ReconcileJobType identifies reconciliation jobs on the queue.
const ReconcileJobType = "reconcile"

type sweeper interface {
	Sweep(ctx context.Context) (*models.ReconcileReport, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) (string, error)
}

// ReconcileWorker bridges queue jobs to the workflow sweep.
type ReconcileWorker struct {
	sweeper sweeper
	logger  *zap.Logger
}

func NewReconcileWorker(sweeper sweeper, logger *zap.Logger) *ReconcileWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileWorker{sweeper: sweeper, logger: logger}
}

// Handle processes a queued reconciliation job.
func (w *ReconcileWorker) Handle(ctx context.Context, job jobs.Job) error {
	report, err := w.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	w.logger.Debug("reconcile job done", zap.String("job_id", job.ID), zap.String("run_id", report.RunID), zap.Int("attempt", job.Attempt))
	return nil
}

// ReconcileScheduler enqueues a reconciliation job on a cron schedule.
type ReconcileScheduler struct {
	cron   *cron.Cron
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewReconcileScheduler parses the five field cron expression and prepares the schedule.
func NewReconcileScheduler(spec string, queue jobEnqueuer, logger *zap.Logger) (*ReconcileScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReconcileScheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		queue:  queue,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.Trigger); err != nil {
		return nil, err
	}
	return s, nil
}

// Trigger enqueues one sweep. A sweep already in flight absorbs the trigger.
func (s *ReconcileScheduler) Trigger() {
	id, err := s.queue.Enqueue(jobs.Job{Type: ReconcileJobType, Key: ReconcileJobType})
	switch {
	case errors.Is(err, jobs.ErrDuplicate):
		s.logger.Debug("reconcile already in flight")
	case err != nil:
		s.logger.Warn("failed to enqueue reconcile job", zap.Error(err))
	default:
		s.logger.Debug("reconcile job enqueued", zap.String("job_id", id))
	}
}

func (s *ReconcileScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running trigger to return.
func (s *ReconcileScheduler) Stop() {
	<-s.cron.Stop().Done()
}
