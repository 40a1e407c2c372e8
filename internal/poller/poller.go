// Package poller implements the Poller Worker: the fixed state table that
// drives a single GenerationJob from PENDING through the provider's job-set
// lifecycle to one of the terminal statuses. Every tick is idempotent and
// safe to run more than once for the same job (at-least-once delivery from
// the scheduler is assumed).
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	jobsdomain "github.com/neurobridge/genjobs/internal/domain/jobs"
	"github.com/neurobridge/genjobs/internal/metrics"
	"github.com/neurobridge/genjobs/internal/pkg/backoff"
	"github.com/neurobridge/genjobs/internal/pkg/clock"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
	"github.com/neurobridge/genjobs/internal/provider"
	"github.com/neurobridge/genjobs/internal/sse"
)

// TickResult tells the scheduler how long to wait before the next tick.
// NextPoll is nil when the job reached a terminal status and needs no further
// ticks; it is also nil after an unexpected (non-provider) error, whose retry
// time is recorded only on the job row.
type TickResult struct {
	JobID    uuid.UUID
	Status   jobsdomain.Status
	NextPoll *time.Time
}

type Poller struct {
	log      *logger.Logger
	clk      clock.Clock
	rnd      clock.Rand
	jobs     jobsrepo.Store
	options  jobsrepo.OptionRepo
	provider provider.Adapter
	events   *sse.Bus
	metrics  *metrics.Sink
	backoff  backoff.Policy
}

func New(log *logger.Logger, clk clock.Clock, rnd clock.Rand, jobs jobsrepo.Store, options jobsrepo.OptionRepo, prov provider.Adapter, events *sse.Bus, m *metrics.Sink) *Poller {
	if clk == nil {
		clk = clock.Real{}
	}
	if rnd == nil {
		rnd = clock.RealRand{}
	}
	return &Poller{
		log:      log.With("component", "PollerWorker"),
		clk:      clk,
		rnd:      rnd,
		jobs:     jobs,
		options:  options,
		provider: prov,
		events:   events,
		metrics:  m,
		backoff:  backoff.DefaultPolicy(),
	}
}

// Tick advances jobID by exactly one step. It never panics across the
// caller's goroutine boundary: any unexpected failure is converted into a
// retryable INTERNAL_ERROR transition.
func (p *Poller) Tick(ctx context.Context, jobID uuid.UUID) (result TickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poller tick panicked; converting to internal error", "job_id", jobID, "panic", r)
			err = p.failRetryable(ctx, jobID, jobsdomain.ErrInternal, fmt.Sprintf("panic: %v", r))
			result = TickResult{JobID: jobID}
		}
	}()

	dbc := dbctx.Context{Ctx: ctx}
	job, loadErr := p.jobs.GetJob(dbc, jobID)
	if loadErr != nil {
		return TickResult{}, fmt.Errorf("load job: %w", loadErr)
	}
	if job == nil {
		return TickResult{}, fmt.Errorf("job %s not found", jobID)
	}

	// Idempotent no-op: a redelivered tick for an already-terminal job does
	// nothing further.
	if job.Status.Terminal() {
		return TickResult{JobID: jobID, Status: job.Status}, nil
	}

	now := p.clk.Now()
	if !job.TimeoutAt.IsZero() && now.After(job.TimeoutAt) {
		return p.transitionTerminal(ctx, job, jobsdomain.StatusTimeout, jobsdomain.ErrTimeout, "job exceeded its timeout", nil)
	}

	if job.NextPollAt != nil && now.Before(*job.NextPollAt) {
		return TickResult{JobID: jobID, Status: job.Status, NextPoll: job.NextPollAt}, nil
	}

	if job.ProviderJobSetID == nil {
		return p.startGeneration(ctx, job)
	}
	return p.pollProvider(ctx, job)
}

func (p *Poller) startGeneration(ctx context.Context, job *jobsdomain.GenerationJob) (TickResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	opt, err := p.options.GetOption(dbc, job.OptionID)
	if err != nil {
		return TickResult{}, fmt.Errorf("load option: %w", err)
	}
	if opt == nil {
		return p.transitionTerminal(ctx, job, jobsdomain.StatusFailed, jobsdomain.ErrInvalidParams, "option no longer exists", nil)
	}

	var params map[string]any
	if len(opt.Parameters) > 0 {
		_ = json.Unmarshal(opt.Parameters, &params)
	}

	var style string
	if opt.StyleID != nil {
		style = *opt.StyleID
	}
	jobSetID, err := p.provider.StartGeneration(ctx, provider.StartRequest{
		Model:      opt.ModelKey,
		Style:      style,
		Prompt:     opt.EnhancedPrompt,
		Parameters: params,
	})
	if err != nil {
		return p.handleProviderError(ctx, job, err)
	}

	now := p.clk.Now()
	next := now.Add(p.backoff.Duration(0, p.rnd))
	started := job.StartedAt
	if started == nil {
		started = &now
	}
	updates := map[string]interface{}{
		"status":              string(jobsdomain.StatusRunning),
		"provider_job_set_id": jobSetID,
		"attempts":            job.Attempts + 1,
		"started_at":          started,
		"next_poll_at":        next,
		"last_error_code":     "",
		"last_error_message":  "",
	}
	if _, err := p.jobs.UpdateJob(dbc, job.ID, updates); err != nil {
		return TickResult{}, fmt.Errorf("persist start generation: %w", err)
	}
	p.publish(job.UserID, job.ID, jobsdomain.StatusRunning, nil, nil)
	return TickResult{JobID: job.ID, Status: jobsdomain.StatusRunning, NextPoll: &next}, nil
}

func (p *Poller) pollProvider(ctx context.Context, job *jobsdomain.GenerationJob) (TickResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	set, err := p.provider.GetJobSet(ctx, *job.ProviderJobSetID)
	if err != nil {
		return p.handleProviderError(ctx, job, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveProviderPoll(job.ModelKey, string(set.Status))
	}

	now := p.clk.Now()
	switch set.Status {
	case provider.StatusCompleted:
		var out []byte
		if len(set.Results) > 0 {
			out, _ = json.Marshal(set.Results[0])
		}
		return p.transitionTerminal(ctx, job, jobsdomain.StatusSucceeded, "", "", out)
	case provider.StatusFailed:
		code := jobsdomain.ErrProviderFailed
		msg := "provider reported failure"
		if set.Error != nil {
			msg = set.Error.Message
		}
		return p.transitionTerminal(ctx, job, jobsdomain.StatusFailed, code, msg, nil)
	default: // queued, processing
		attempts := job.Attempts + 1
		next := now.Add(p.backoff.Duration(attempts, p.rnd))
		updates := map[string]interface{}{
			"status":             string(jobsdomain.StatusRunning),
			"attempts":           attempts,
			"last_polled_at":     now,
			"next_poll_at":       next,
			"last_error_code":    "",
			"last_error_message": "",
		}
		if _, err := p.jobs.UpdateJob(dbc, job.ID, updates); err != nil {
			return TickResult{}, fmt.Errorf("persist poll progress: %w", err)
		}
		p.publish(job.UserID, job.ID, jobsdomain.StatusRunning, nil, nil)
		return TickResult{JobID: job.ID, Status: jobsdomain.StatusRunning, NextPoll: &next}, nil
	}
}

func (p *Poller) handleProviderError(ctx context.Context, job *jobsdomain.GenerationJob, err error) (TickResult, error) {
	var perr *provider.Error
	if !errors.As(err, &perr) || perr == nil {
		return TickResult{}, p.failRetryable(ctx, job.ID, jobsdomain.ErrInternal, err.Error())
	}
	if p.metrics != nil {
		p.metrics.ObserveProviderError(perr.Code)
	}
	if !perr.Retryable {
		res, terr := p.transitionTerminal(ctx, job, jobsdomain.StatusFailed, perr.Code, perr.Message, nil)
		return res, terr
	}

	attempts := job.Attempts + 1
	n := attempts
	if perr.Code == jobsdomain.ErrRateLimited {
		n = attempts + backoff.RateLimitPenaltyAttempts
	}
	delay := p.backoff.Duration(n, p.rnd)
	next := p.clk.Now().Add(delay)

	dbc := dbctx.Context{Ctx: ctx}
	updates := map[string]interface{}{
		"attempts":           attempts,
		"next_poll_at":       next,
		"last_error_code":    perr.Code,
		"last_error_message": perr.Message,
	}
	if _, uerr := p.jobs.UpdateJob(dbc, job.ID, updates); uerr != nil {
		return TickResult{}, fmt.Errorf("persist retryable error: %w", uerr)
	}
	p.publish(job.UserID, job.ID, job.Status, nil, map[string]any{"code": perr.Code, "message": perr.Message, "retryable": true})
	return TickResult{JobID: job.ID, Status: job.Status, NextPoll: &next}, nil
}

// failRetryable is used for unexpected (non-provider) errors: same INTERNAL_ERROR
// code and backoff curve as any other retryable error.
func (p *Poller) failRetryable(ctx context.Context, jobID uuid.UUID, code, message string) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := p.jobs.GetJob(dbc, jobID)
	if err != nil || job == nil {
		return err
	}
	attempts := job.Attempts + 1
	delay := p.backoff.Duration(attempts, p.rnd)
	next := p.clk.Now().Add(delay)
	if p.metrics != nil {
		p.metrics.ObserveProviderError(code)
	}
	_, uerr := p.jobs.UpdateJob(dbc, jobID, map[string]interface{}{
		"attempts":           attempts,
		"next_poll_at":       next,
		"last_error_code":    code,
		"last_error_message": message,
	})
	return uerr
}

func (p *Poller) transitionTerminal(ctx context.Context, job *jobsdomain.GenerationJob, status jobsdomain.Status, code, message string, outputURLs []byte) (TickResult, error) {
	now := p.clk.Now()
	updates := map[string]interface{}{
		"status":       string(status),
		"finished_at":  now,
		"next_poll_at": nil,
	}
	if code != "" {
		updates["last_error_code"] = code
		updates["last_error_message"] = message
	}
	if status == jobsdomain.StatusSucceeded {
		updates["progress"] = 100
		if outputURLs != nil {
			updates["output_urls"] = outputURLs
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	applied, err := p.jobs.UpdateJob(dbc, job.ID, updates)
	if err != nil {
		return TickResult{}, fmt.Errorf("persist terminal transition: %w", err)
	}
	if !applied {
		// The store's terminal guard rejected the write: a racing tick already
		// finished this job and emitted its metrics and event.
		current, gerr := p.jobs.GetJob(dbc, job.ID)
		if gerr != nil || current == nil {
			return TickResult{JobID: job.ID, Status: status}, gerr
		}
		return TickResult{JobID: job.ID, Status: current.Status}, nil
	}

	if p.metrics != nil {
		toolType, modelKey := string(job.ToolType), job.ModelKey
		switch status {
		case jobsdomain.StatusSucceeded:
			p.metrics.ObserveJobSucceeded(toolType, modelKey)
		case jobsdomain.StatusFailed:
			p.metrics.ObserveJobFailed(toolType, modelKey, code)
		case jobsdomain.StatusTimeout:
			p.metrics.ObserveJobTimeout(toolType, modelKey)
		}
	}

	var errPayload any
	var resultPayload any
	if code != "" {
		errPayload = map[string]any{"code": code, "message": message}
	}
	if status == jobsdomain.StatusSucceeded && len(outputURLs) > 0 {
		var result provider.Result
		_ = json.Unmarshal(outputURLs, &result)
		resultPayload = result
	}
	p.publish(job.UserID, job.ID, status, resultPayload, errPayload)

	return TickResult{JobID: job.ID, Status: status}, nil
}

func (p *Poller) publish(userID uuid.UUID, jobID uuid.UUID, status jobsdomain.Status, result any, errPayload any) {
	if p.events == nil {
		return
	}
	p.events.Publish(sse.Message{
		Channel: sse.ChatChannel(userID),
		Type:    sse.EventJobUpdated,
		JobID:   jobID.String(),
		Status:  string(status),
		Result:  result,
		Error:   errPayload,
	})
}
