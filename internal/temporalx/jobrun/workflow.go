package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

const (
	defaultPollInterval = 3 * time.Second
	continueTickLimit   = 2000
	continueHistoryLen  = 15000
)

// Workflow drives a single GenerationJob from PENDING to a terminal status by
// repeatedly executing the Tick activity and sleeping until the next poll is
// due. The workflow ID is the job's UUID.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    30 * time.Second,
	})

	ticks := 0
	for {
		ticks++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case "SUCCEEDED", "CANCELED":
			return nil
		case "FAILED", "TIMEOUT":
			return fmt.Errorf("job reached terminal status %s", out.Status)
		}

		if d := nextWait(ctx, out.NextPoll, defaultPollInterval); d > 0 {
			if err := workflow.Sleep(ctx, d); err != nil {
				return err
			}
		}
		if shouldContinueAsNew(ctx, ticks, continueTickLimit, continueHistoryLen) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func nextWait(ctx workflow.Context, until *time.Time, def time.Duration) time.Duration {
	if until == nil || until.IsZero() {
		return def
	}
	now := workflow.Now(ctx)
	d := until.Sub(now)
	if d <= 0 {
		return def
	}
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
