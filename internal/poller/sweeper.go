package poller

import (
	"context"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	"github.com/neurobridge/genjobs/internal/metrics"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

const (
	defaultSweepInterval      = 30 * time.Second
	defaultSweepBatchSize     = 50
	defaultQueueDepthInterval = 15 * time.Second
)

// Scheduler is the narrow Scheduler/Queue dependency the sweeper needs:
// requeue a tick for a job id. It is structurally identical to
// orchestrator.Scheduler; kept separate so this package doesn't import
// orchestrator.
type Scheduler interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error
}

// Sweeper guards against a missed requeue: every transition in the Poller
// Worker is supposed to requeue its own next tick, but the scheduler's
// at-least-once contract alone can still lose one (a process crash between
// the row commit and the enqueue call). Sweeper periodically re-enqueues any
// job whose next_poll_at has already passed, and separately keeps the
// queue_depth gauge current by sampling CountActive — the periodic update
// this service's original Celery-task equivalent performed (see
// SPEC_FULL.md §12).
type Sweeper struct {
	log       *logger.Logger
	jobs      jobsrepo.Store
	scheduler Scheduler
	metrics   *metrics.Sink

	sweepInterval      time.Duration
	queueDepthInterval time.Duration
	batchSize          int
}

func NewSweeper(log *logger.Logger, jobs jobsrepo.Store, scheduler Scheduler, m *metrics.Sink) *Sweeper {
	return &Sweeper{
		log:                log.With("component", "StalledJobSweeper"),
		jobs:               jobs,
		scheduler:          scheduler,
		metrics:            m,
		sweepInterval:      defaultSweepInterval,
		queueDepthInterval: defaultQueueDepthInterval,
		batchSize:          defaultSweepBatchSize,
	}
}

// Run blocks until ctx is canceled, driving both the stalled-job sweep and
// the queue-depth gauge update on their own tickers.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.jobs == nil {
		return nil
	}
	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()
	depthTicker := time.NewTicker(s.queueDepthInterval)
	defer depthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			s.sweepOnce(ctx)
		case <-depthTicker.C:
			s.updateQueueDepth(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	due, err := s.jobs.ScanStalled(dbc, s.batchSize)
	if err != nil {
		s.log.Warn("stalled job scan failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info("requeueing stalled jobs", "count", len(due))
	for _, job := range due {
		if s.scheduler == nil {
			continue
		}
		if err := s.scheduler.Enqueue(ctx, job.ID, 0); err != nil {
			s.log.Warn("stalled job requeue failed", "job_id", job.ID, "error", err)
		}
	}
}

func (s *Sweeper) updateQueueDepth(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	n, err := s.jobs.CountActive(dbc)
	if err != nil {
		s.log.Warn("queue depth count failed", "error", err)
		return
	}
	s.metrics.SetQueueDepth(n)
}
