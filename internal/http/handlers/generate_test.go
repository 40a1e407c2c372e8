package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobsdomain "github.com/neurobridge/genjobs/internal/domain/jobs"
	"github.com/neurobridge/genjobs/internal/http/handlers"
	"github.com/neurobridge/genjobs/internal/http/middleware"
	"github.com/neurobridge/genjobs/internal/orchestrator"
	"github.com/neurobridge/genjobs/internal/pkg/clock"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

type genOptionRepo struct{ opt *jobsdomain.Option }

func (f *genOptionRepo) GetOption(dbctx.Context, uuid.UUID) (*jobsdomain.Option, error) {
	return f.opt, nil
}

type genStore struct {
	created map[uuid.UUID]*jobsdomain.GenerationJob
}

func newGenStore() *genStore { return &genStore{created: map[uuid.UUID]*jobsdomain.GenerationJob{}} }

func (s *genStore) InsertJobIfAbsent(_ dbctx.Context, job *jobsdomain.GenerationJob) (*jobsdomain.GenerationJob, bool, error) {
	s.created[job.ID] = job
	return job, false, nil
}
func (s *genStore) GetJob(_ dbctx.Context, id uuid.UUID) (*jobsdomain.GenerationJob, error) {
	return s.created[id], nil
}
func (s *genStore) UpdateJob(dbctx.Context, uuid.UUID, map[string]interface{}) (bool, error) {
	return true, nil
}
func (s *genStore) CountActive(dbctx.Context) (int64, error) { return 0, nil }
func (s *genStore) ScanStalled(dbctx.Context, int) ([]*jobsdomain.GenerationJob, error) {
	return nil, nil
}

type genScheduler struct{ enqueued int }

func (s *genScheduler) Enqueue(context.Context, uuid.UUID, time.Duration) error {
	s.enqueued++
	return nil
}

type genCounter struct{ calls int }

func (c *genCounter) ObserveJobCreated(string, string) { c.calls++ }

func newGenerateEngine(t *testing.T, opt *jobsdomain.Option) *gin.Engine {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)

	orch := orchestrator.New(log, clock.Real{}, &genOptionRepo{opt: opt}, newGenStore(), &genScheduler{}, &genCounter{})
	h := handlers.NewGenerateHandler(orch)

	r := gin.New()
	g := r.Group("/")
	g.Use(middleware.RequireUserID())
	g.POST("/options/:option_id/generate", h.Generate)
	return r
}

func TestGenerate_MissingIdempotencyKey(t *testing.T) {
	userID := uuid.New()
	optionID := uuid.New()
	opt := &jobsdomain.Option{ID: optionID, UserID: userID, ToolType: jobsdomain.ToolTextToImage, ModelKey: "flux-1"}
	r := newGenerateEngine(t, opt)

	req := httptest.NewRequest(http.MethodPost, "/options/"+optionID.String()+"/generate", nil)
	req.Header.Set("X-User-Id", userID.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_IDEMPOTENCY_KEY")
}

func TestGenerate_UnknownOptionIsNotFound(t *testing.T) {
	userID := uuid.New()
	r := newGenerateEngine(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/options/"+uuid.New().String()+"/generate", nil)
	req.Header.Set("X-User-Id", userID.String())
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate_AcceptsAndReturnsJobID(t *testing.T) {
	userID := uuid.New()
	optionID := uuid.New()
	opt := &jobsdomain.Option{ID: optionID, UserID: userID, ToolType: jobsdomain.ToolTextToImage, ModelKey: "flux-1"}
	r := newGenerateEngine(t, opt)

	req := httptest.NewRequest(http.MethodPost, "/options/"+optionID.String()+"/generate", nil)
	req.Header.Set("X-User-Id", userID.String())
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "job_id")
}

func TestGenerate_InvalidOptionID(t *testing.T) {
	userID := uuid.New()
	r := newGenerateEngine(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/options/not-a-uuid/generate", nil)
	req.Header.Set("X-User-Id", userID.String())
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
