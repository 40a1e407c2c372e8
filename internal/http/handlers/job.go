package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	jobsdomain "github.com/neurobridge/genjobs/internal/domain/jobs"
	"github.com/neurobridge/genjobs/internal/http/middleware"
	"github.com/neurobridge/genjobs/internal/http/response"
	"github.com/neurobridge/genjobs/internal/pkg/clock"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/provider"
)

// JobHandler implements GET /jobs/{job_id}.
type JobHandler struct {
	jobs jobsrepo.Store
	clk  clock.Clock
}

func NewJobHandler(jobs jobsrepo.Store, clk clock.Clock) *JobHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &JobHandler{jobs: jobs, clk: clk}
}

type jobResult struct {
	MinURL string `json:"min_url"`
	RawURL string `json:"raw_url"`
	MIME   string `json:"mime"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobResponse struct {
	JobID             uuid.UUID  `json:"job_id"`
	Status            string     `json:"status"`
	Result            *jobResult `json:"result,omitempty"`
	Error             *jobError  `json:"error,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds"`
}

func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_JOB_ID", err)
		return
	}
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "MISSING_USER_ID", errors.New("missing user context"))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetJob(dbc, jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	if job == nil || job.UserID != userID {
		response.RespondError(c, http.StatusNotFound, "NOT_FOUND", errors.New("job not found"))
		return
	}

	c.JSON(http.StatusOK, buildJobResponse(job, h.clk.Now()))
}

func buildJobResponse(job *jobsdomain.GenerationJob, now time.Time) jobResponse {
	out := jobResponse{
		JobID:             job.ID,
		Status:            string(job.Status),
		RetryAfterSeconds: retryAfterSeconds(job.NextPollAt, now),
	}

	if job.Status == jobsdomain.StatusSucceeded && len(job.OutputURLs) > 0 {
		var res provider.Result
		if err := json.Unmarshal(job.OutputURLs, &res); err == nil {
			mime := "video/mp4"
			if res.Type == "image" {
				mime = "image/jpeg"
			}
			out.Result = &jobResult{MinURL: res.MinURL, RawURL: res.RawURL, MIME: mime}
		}
	}

	if job.Status == jobsdomain.StatusFailed || job.Status == jobsdomain.StatusTimeout {
		code := job.LastErrorCode
		if code == "" {
			code = "UNKNOWN"
		}
		msg := job.LastErrorMessage
		if msg == "" {
			msg = "job failed"
		}
		out.Error = &jobError{Code: code, Message: msg}
	}

	return out
}

// retryAfterSeconds implements spec.md §6's
// clamp(ceil(next_poll_at - now), 1, 10), defaulting to 10 when unset.
func retryAfterSeconds(nextPollAt *time.Time, now time.Time) int {
	if nextPollAt == nil {
		return 10
	}
	secs := int(math.Ceil(nextPollAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > 10 {
		secs = 10
	}
	return secs
}
