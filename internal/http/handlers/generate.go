package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurobridge/genjobs/internal/http/middleware"
	"github.com/neurobridge/genjobs/internal/http/response"
	"github.com/neurobridge/genjobs/internal/orchestrator"
	domainerrors "github.com/neurobridge/genjobs/internal/pkg/errors"

	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
)

// GenerateHandler implements POST /options/{option_id}/generate: the single
// entrypoint into the Orchestrator's CreateJob use case.
type GenerateHandler struct {
	orch *orchestrator.Orchestrator
}

func NewGenerateHandler(orch *orchestrator.Orchestrator) *GenerateHandler {
	return &GenerateHandler{orch: orch}
}

func (h *GenerateHandler) Generate(c *gin.Context) {
	optionID, err := uuid.Parse(c.Param("option_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_OPTION_ID", err)
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idempotencyKey == "" {
		response.RespondError(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", errors.New("Idempotency-Key header is required"))
		return
	}

	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "MISSING_USER_ID", errors.New("missing user context"))
		return
	}

	traceID := c.GetString("trace_id")
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	job, err := h.orch.CreateJob(c.Request.Context(), dbc, userID, optionID, idempotencyKey, traceID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "NOT_FOUND", err)
			return
		}
		if errors.Is(err, domainerrors.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}
