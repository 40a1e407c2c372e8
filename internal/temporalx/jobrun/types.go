package jobrun

import "time"

const (
	WorkflowName = "generation_job_run"
	ActivityTick = "generation_job_tick"
)

// TickResult is what Activities.Tick reports back to the workflow loop: just
// enough for the workflow to decide whether to keep polling, sleep until a
// specific time, or stop.
type TickResult struct {
	JobID    string     `json:"job_id"`
	Status   string     `json:"status"`
	NextPoll *time.Time `json:"next_poll,omitempty"`
}
