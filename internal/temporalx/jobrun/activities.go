package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurobridge/genjobs/internal/poller"

	"go.temporal.io/sdk/activity"
)

// Activities wraps the Poller Worker's single Tick operation for Temporal
// dispatch. It carries no state of its own beyond the poller; every piece of
// durable state lives in GenerationJob rows.
type Activities struct {
	Poller *poller.Poller
}

func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Poller == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}

	parsed, err := uuid.Parse(res.JobID)
	if err != nil || parsed == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id")
	}

	stop := a.startHeartbeat(ctx)
	defer stop()

	out, err := a.Poller.Tick(ctx, parsed)
	if err != nil {
		return res, err
	}

	res.Status = string(out.Status)
	res.NextPoll = out.NextPoll
	return res, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
