package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domain "github.com/neurobridge/genjobs/internal/domain/jobs"
	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

// newTestDB stands up an in-memory SQLite database with the generation_job
// and option tables created by hand rather than via AutoMigrate: the
// production schema's id column defaults to Postgres's uuid_generate_v4(),
// which SQLite cannot evaluate as a column default expression.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
		CREATE TABLE option (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			rank INTEGER NOT NULL DEFAULT 0,
			tool_type TEXT NOT NULL,
			model_key TEXT NOT NULL,
			style_id TEXT,
			enhanced_prompt TEXT NOT NULL,
			parameters TEXT,
			requires_attachment INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME
		)
	`).Error)

	require.NoError(t, db.Exec(`
		CREATE TABLE generation_job (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			option_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			trace_id TEXT,
			tool_type TEXT NOT NULL,
			model_key TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			provider_job_set_id TEXT,
			last_polled_at DATETIME,
			next_poll_at DATETIME,
			timeout_at DATETIME NOT NULL,
			output_urls TEXT,
			last_error_code TEXT,
			last_error_message TEXT,
			started_at DATETIME,
			finished_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error)

	require.NoError(t, db.Exec(`
		CREATE UNIQUE INDEX idx_generation_job_idempotency
		ON generation_job (user_id, option_id, idempotency_key)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE UNIQUE INDEX idx_generation_job_provider_set_id_notnull
		ON generation_job (provider_job_set_id)
		WHERE provider_job_set_id IS NOT NULL
	`).Error)

	return db
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return log
}

func newJob(userID, optionID uuid.UUID, idk string) *domain.GenerationJob {
	now := time.Now()
	return &domain.GenerationJob{
		ID:             uuid.New(),
		UserID:         userID,
		OptionID:       optionID,
		IdempotencyKey: idk,
		ToolType:       domain.ToolTextToImage,
		ModelKey:       "flux-1",
		Status:         domain.StatusPending,
		TimeoutAt:      now.Add(3 * time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInsertJobIfAbsent_CreatesOnFirstCall(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := newJob(uuid.New(), uuid.New(), "idem-1")
	created, existed, err := store.InsertJobIfAbsent(dbc, job)
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, job.ID, created.ID)

	fetched, err := store.GetJob(dbc, job.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, domain.StatusPending, fetched.Status)
}

func TestInsertJobIfAbsent_ReplayReturnsExistingJob(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	userID, optionID := uuid.New(), uuid.New()
	first := newJob(userID, optionID, "idem-replay")
	created1, existed1, err := store.InsertJobIfAbsent(dbc, first)
	require.NoError(t, err)
	require.False(t, existed1)

	second := newJob(userID, optionID, "idem-replay")
	created2, existed2, err := store.InsertJobIfAbsent(dbc, second)
	require.NoError(t, err)
	require.True(t, existed2)
	require.Equal(t, created1.ID, created2.ID)
}

func TestInsertJobIfAbsent_DistinctIdempotencyKeysCreateDistinctJobs(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	userID, optionID := uuid.New(), uuid.New()
	a, _, err := store.InsertJobIfAbsent(dbc, newJob(userID, optionID, "idem-a"))
	require.NoError(t, err)
	b, _, err := store.InsertJobIfAbsent(dbc, newJob(userID, optionID, "idem-b"))
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
}

func TestUpdateJob_AppliesPartialUpdate(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := newJob(uuid.New(), uuid.New(), "idem-upd")
	_, _, err := store.InsertJobIfAbsent(dbc, job)
	require.NoError(t, err)

	ok, err := store.UpdateJob(dbc, job.ID, map[string]interface{}{
		"status":   string(domain.StatusRunning),
		"attempts": 1,
	})
	require.NoError(t, err)
	require.True(t, ok)

	fetched, err := store.GetJob(dbc, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, fetched.Status)
	require.Equal(t, 1, fetched.Attempts)
}

func TestUpdateJob_TerminalJobRejectsFurtherWrites(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := newJob(uuid.New(), uuid.New(), "idem-terminal")
	_, _, err := store.InsertJobIfAbsent(dbc, job)
	require.NoError(t, err)

	ok, err := store.UpdateJob(dbc, job.ID, map[string]interface{}{"status": string(domain.StatusSucceeded)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.UpdateJob(dbc, job.ID, map[string]interface{}{"status": string(domain.StatusRunning)})
	require.NoError(t, err)
	require.False(t, ok, "a terminal job must never accept another write")

	fetched, err := store.GetJob(dbc, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, fetched.Status, "status must remain the terminal one")
}

func TestCountActive_CountsOnlyPendingAndRunning(t *testing.T) {
	db := newTestDB(t)
	store := jobsrepo.NewStore(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	userID, optionID := uuid.New(), uuid.New()
	pending := newJob(userID, optionID, "idem-pending")
	_, _, err := store.InsertJobIfAbsent(dbc, pending)
	require.NoError(t, err)

	running := newJob(userID, optionID, "idem-running")
	_, _, err = store.InsertJobIfAbsent(dbc, running)
	require.NoError(t, err)
	_, err = store.UpdateJob(dbc, running.ID, map[string]interface{}{"status": string(domain.StatusRunning)})
	require.NoError(t, err)

	done := newJob(userID, optionID, "idem-done")
	_, _, err = store.InsertJobIfAbsent(dbc, done)
	require.NoError(t, err)
	_, err = store.UpdateJob(dbc, done.ID, map[string]interface{}{"status": string(domain.StatusSucceeded)})
	require.NoError(t, err)

	count, err := store.CountActive(dbc)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestGetOption_ReturnsNilWhenMissing(t *testing.T) {
	db := newTestDB(t)
	optRepo := jobsrepo.NewOptionRepo(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	opt, err := optRepo.GetOption(dbc, uuid.New())
	require.NoError(t, err)
	require.Nil(t, opt)
}

func TestGetOption_ReturnsRowWhenPresent(t *testing.T) {
	db := newTestDB(t)
	optRepo := jobsrepo.NewOptionRepo(db, testLogger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	optionID := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO option (id, user_id, message_id, tool_type, model_key, enhanced_prompt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		optionID.String(), uuid.New().String(), uuid.New().String(),
		string(domain.ToolTextToImage), "flux-1", "a cat", time.Now(),
	).Error)

	opt, err := optRepo.GetOption(dbc, optionID)
	require.NoError(t, err)
	require.NotNil(t, opt)
	require.Equal(t, "flux-1", opt.ModelKey)
}
