package poller

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	domain "github.com/neurobridge/genjobs/internal/domain/jobs"
	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	"github.com/neurobridge/genjobs/internal/metrics"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

type sweeperStore struct {
	due         []*domain.GenerationJob
	scanErr     error
	scanCalls   int
	activeCount int64
	countErr    error
}

func (s *sweeperStore) InsertJobIfAbsent(dbctx.Context, *domain.GenerationJob) (*domain.GenerationJob, bool, error) {
	panic("unused")
}
func (s *sweeperStore) GetJob(dbctx.Context, uuid.UUID) (*domain.GenerationJob, error) {
	panic("unused")
}
func (s *sweeperStore) UpdateJob(dbctx.Context, uuid.UUID, map[string]interface{}) (bool, error) {
	panic("unused")
}
func (s *sweeperStore) CountActive(dbctx.Context) (int64, error) { return s.activeCount, s.countErr }
func (s *sweeperStore) ScanStalled(dbctx.Context, int) ([]*domain.GenerationJob, error) {
	s.scanCalls++
	return s.due, s.scanErr
}

var _ jobsrepo.Store = (*sweeperStore)(nil)

type sweeperScheduler struct {
	enqueued []uuid.UUID
	err      error
}

func (s *sweeperScheduler) Enqueue(_ context.Context, jobID uuid.UUID, _ time.Duration) error {
	s.enqueued = append(s.enqueued, jobID)
	return s.err
}

func sweeperTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return log
}

func TestSweepOnce_RequeuesEachStalledJob(t *testing.T) {
	store := &sweeperStore{due: []*domain.GenerationJob{
		{ID: uuid.New()}, {ID: uuid.New()},
	}}
	sched := &sweeperScheduler{}
	s := NewSweeper(sweeperTestLogger(t), store, sched, metrics.New())

	s.sweepOnce(context.Background())

	require.Equal(t, 1, store.scanCalls)
	require.Len(t, sched.enqueued, 2)
	require.ElementsMatch(t, []uuid.UUID{store.due[0].ID, store.due[1].ID}, sched.enqueued)
}

func TestSweepOnce_NoDueJobsDoesNotTouchScheduler(t *testing.T) {
	store := &sweeperStore{due: nil}
	sched := &sweeperScheduler{}
	s := NewSweeper(sweeperTestLogger(t), store, sched, metrics.New())

	s.sweepOnce(context.Background())

	require.Empty(t, sched.enqueued)
}

func TestSweepOnce_ScanErrorIsSwallowed(t *testing.T) {
	store := &sweeperStore{scanErr: context.DeadlineExceeded}
	sched := &sweeperScheduler{}
	s := NewSweeper(sweeperTestLogger(t), store, sched, metrics.New())

	require.NotPanics(t, func() { s.sweepOnce(context.Background()) })
	require.Empty(t, sched.enqueued)
}

func TestSweepOnce_EnqueueErrorDoesNotAbortRemainingJobs(t *testing.T) {
	store := &sweeperStore{due: []*domain.GenerationJob{{ID: uuid.New()}, {ID: uuid.New()}}}
	sched := &sweeperScheduler{err: context.DeadlineExceeded}
	s := NewSweeper(sweeperTestLogger(t), store, sched, metrics.New())

	require.NotPanics(t, func() { s.sweepOnce(context.Background()) })
	require.Len(t, sched.enqueued, 2, "a failed enqueue call must not stop the loop over remaining jobs")
}

func TestUpdateQueueDepth_SetsGaugeFromCountActive(t *testing.T) {
	store := &sweeperStore{activeCount: 7}
	m := metrics.New()
	s := NewSweeper(sweeperTestLogger(t), store, &sweeperScheduler{}, m)

	s.updateQueueDepth(context.Background())

	require.Equal(t, float64(7), testutil.ToFloat64(m.QueueDepth))
}

func TestRun_StopsWhenContextCanceled(t *testing.T) {
	store := &sweeperStore{}
	s := NewSweeper(sweeperTestLogger(t), store, &sweeperScheduler{}, metrics.New())
	s.sweepInterval = time.Millisecond
	s.queueDepthInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	require.Greater(t, store.scanCalls, 0, "ticker should have fired at least once before cancellation")
}

func TestRun_NilStoreIsNoOp(t *testing.T) {
	s := NewSweeper(sweeperTestLogger(t), nil, &sweeperScheduler{}, metrics.New())
	require.NoError(t, s.Run(context.Background()))
}
