package temporalx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/neurobridge/genjobs/internal/temporalx/jobrun"
)

// Scheduler implements orchestrator.Scheduler by starting one Temporal
// workflow execution per job, keyed by the job's own UUID so a duplicate
// Enqueue call for the same job is a harmless no-op (Temporal rejects the
// second start with WorkflowExecutionAlreadyStarted).
type Scheduler struct {
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewScheduler(tc temporalsdkclient.Client, taskQueue string) *Scheduler {
	return &Scheduler{tc: tc, taskQueue: taskQueue}
}

func (s *Scheduler) Enqueue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal scheduler not configured")
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       jobID.String(),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: 24 * time.Hour,
		StartDelay:               delay,
	}
	_, err := s.tc.ExecuteWorkflow(ctx, opts, jobrun.Workflow)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("start workflow: %w", err)
	}
	return nil
}
