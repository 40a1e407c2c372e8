// Package orchestrator implements the CreateJob use case: translating an
// HTTP "generate from this option" request into an idempotently-inserted
// GenerationJob, ready for the scheduler to pick up.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	jobsdomain "github.com/neurobridge/genjobs/internal/domain/jobs"
	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	"github.com/neurobridge/genjobs/internal/pkg/clock"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	domainerrors "github.com/neurobridge/genjobs/internal/pkg/errors"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
	"github.com/neurobridge/genjobs/internal/pkg/pointers"
)

// defaultToolTimeouts is the tool_type → creation-time timeout budget
// mapping from spec.md §4.1. A tool type missing from it gets fallbackTimeout.
var defaultToolTimeouts = map[jobsdomain.ToolType]time.Duration{
	jobsdomain.ToolTextToImage:  180 * time.Second,
	jobsdomain.ToolTextToVideo:  1200 * time.Second,
	jobsdomain.ToolImageToVideo: 1200 * time.Second,
	jobsdomain.ToolSpeak:        180 * time.Second,
}

const fallbackTimeout = 1200 * time.Second

// Scheduler is the narrow interface the orchestrator needs from the
// Scheduler/Queue component: enqueue a tick for a brand new job.
type Scheduler interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error
}

// JobsCreatedCounter is the narrow Metrics Sink interface the orchestrator
// needs: one labeled increment per successfully created job.
type JobsCreatedCounter interface {
	ObserveJobCreated(toolType, modelKey string)
}

type Orchestrator struct {
	log          *logger.Logger
	clock        clock.Clock
	options      jobsrepo.OptionRepo
	jobs         jobsrepo.Store
	scheduler    Scheduler
	onCreated    JobsCreatedCounter
	toolTimeouts map[jobsdomain.ToolType]time.Duration
}

func New(log *logger.Logger, clk clock.Clock, options jobsrepo.OptionRepo, jobs jobsrepo.Store, scheduler Scheduler, onCreated JobsCreatedCounter) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Orchestrator{
		log:          log.With("component", "Orchestrator"),
		clock:        clk,
		options:      options,
		jobs:         jobs,
		scheduler:    scheduler,
		onCreated:    onCreated,
		toolTimeouts: defaultToolTimeouts,
	}
}

func (o *Orchestrator) timeoutFor(toolType jobsdomain.ToolType) time.Duration {
	if d, ok := o.toolTimeouts[toolType]; ok && d > 0 {
		return d
	}
	return fallbackTimeout
}

// CreateJob resolves option, inserts (or returns the existing) GenerationJob
// for the given idempotency key, and enqueues the first poll tick only when
// a brand new job was actually created.
func (o *Orchestrator) CreateJob(ctx context.Context, dbc dbctx.Context, userID, optionID uuid.UUID, idempotencyKey, traceID string) (*jobsdomain.GenerationJob, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: %s", domainerrors.ErrInvalidArgument, jobsdomain.ErrMissingIdempotencyKey)
	}

	opt, err := o.options.GetOption(dbc, optionID)
	if err != nil {
		return nil, err
	}
	if opt == nil || opt.UserID != userID {
		return nil, fmt.Errorf("%w: option", domainerrors.ErrNotFound)
	}

	now := o.clock.Now()
	job := &jobsdomain.GenerationJob{
		ID:             uuid.New(),
		UserID:         userID,
		OptionID:       optionID,
		IdempotencyKey: idempotencyKey,
		TraceID:        traceID,
		ToolType:       opt.ToolType,
		ModelKey:       opt.ModelKey,
		Status:         jobsdomain.StatusPending,
		TimeoutAt:      now.Add(o.timeoutFor(opt.ToolType)),
		NextPollAt:     pointers.Ptr(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, existed, err := o.jobs.InsertJobIfAbsent(dbc, job)
	if err != nil {
		return nil, err
	}
	if existed {
		o.log.Debug("job create idempotent replay", "job_id", created.ID, "idempotency_key", idempotencyKey)
		return created, nil
	}

	if o.onCreated != nil {
		o.onCreated.ObserveJobCreated(string(opt.ToolType), opt.ModelKey)
	}
	if o.scheduler != nil {
		if err := o.scheduler.Enqueue(ctx, created.ID, 0); err != nil {
			return created, fmt.Errorf("enqueue job: %w", err)
		}
	}
	o.log.Info("job created", "job_id", created.ID, "user_id", userID, "option_id", optionID)
	return created, nil
}
