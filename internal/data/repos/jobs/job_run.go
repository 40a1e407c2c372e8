package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/neurobridge/genjobs/internal/domain/jobs"
	"github.com/neurobridge/genjobs/internal/pkg/dbctx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

// Store is the Job Store component: transactional reads/writes over
// GenerationJob, built around the idempotent-insert and claim-for-poll
// access patterns the rest of the system relies on.
type Store interface {
	// InsertJobIfAbsent inserts a new GenerationJob keyed by
	// (user_id, option_id, idempotency_key); if a row already exists for that
	// key it is returned unchanged (create is idempotent, never a second job).
	InsertJobIfAbsent(dbc dbctx.Context, job *domain.GenerationJob) (*domain.GenerationJob, bool, error)

	GetJob(dbc dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error)

	// UpdateJob applies a field update guarded so terminal jobs can never be
	// mutated again; it returns false (no error) if the guard rejected the
	// write.
	UpdateJob(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)

	// CountActive returns the number of jobs currently in PENDING or RUNNING,
	// feeding the queue_depth gauge.
	CountActive(dbc dbctx.Context) (int64, error)

	// ScanStalled returns up to limit jobs that are due for a poll tick
	// (next_poll_at <= now, status PENDING/RUNNING), oldest first. Rows are
	// read with FOR UPDATE SKIP LOCKED inside the method's own transaction, so
	// the locks are released when it returns; concurrent callers can receive
	// the same jobs once the scan has finished.
	ScanStalled(dbc dbctx.Context, limit int) ([]*domain.GenerationJob, error)
}

// OptionRepo is a thin read-only accessor over the Option table, which is
// populated upstream by the chat/recommender system.
type OptionRepo interface {
	GetOption(dbc dbctx.Context, id uuid.UUID) (*domain.Option, error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("repo", "GenerationJobStore")}
}

func NewOptionRepo(db *gorm.DB, baseLog *logger.Logger) OptionRepo {
	return &store{db: db, log: baseLog.With("repo", "OptionRepo")}
}

func (s *store) GetOption(dbc dbctx.Context, id uuid.UUID) (*domain.Option, error) {
	if id == uuid.Nil {
		return nil, errors.New("option id required")
	}
	var opt domain.Option
	if err := s.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Take(&opt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &opt, nil
}

func (s *store) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return s.db
}

func (s *store) InsertJobIfAbsent(dbc dbctx.Context, job *domain.GenerationJob) (*domain.GenerationJob, bool, error) {
	if job == nil {
		return nil, false, errors.New("job is nil")
	}
	var created *domain.GenerationJob
	var existed bool

	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var existing domain.GenerationJob
		err := txx.
			Where("user_id = ? AND option_id = ? AND idempotency_key = ?", job.UserID, job.OptionID, job.IdempotencyKey).
			Take(&existing).Error
		if err == nil {
			created = &existing
			existed = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// The insert runs in a nested transaction (a savepoint) so that a
		// unique-index violation leaves the outer transaction usable for the
		// re-read below.
		if err := txx.Transaction(func(ins *gorm.DB) error { return ins.Create(job).Error }); err != nil {
			// Another request won the race on the unique index; fetch theirs.
			var raced domain.GenerationJob
			lookupErr := txx.
				Where("user_id = ? AND option_id = ? AND idempotency_key = ?", job.UserID, job.OptionID, job.IdempotencyKey).
				Take(&raced).Error
			if lookupErr == nil {
				created = &raced
				existed = true
				return nil
			}
			return err
		}
		created = job
		existed = false
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, existed, nil
}

func (s *store) GetJob(dbc dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, errors.New("job id required")
	}
	var job domain.GenerationJob
	if err := s.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (s *store) UpdateJob(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	terminal := []string{
		string(domain.StatusSucceeded),
		string(domain.StatusFailed),
		string(domain.StatusTimeout),
		string(domain.StatusCanceled),
	}
	res := s.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", id, terminal).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *store) CountActive(dbc dbctx.Context) (int64, error) {
	var count int64
	err := s.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.GenerationJob{}).
		Where("status IN ?", []string{string(domain.StatusPending), string(domain.StatusRunning)}).
		Count(&count).Error
	return count, err
}

func (s *store) ScanStalled(dbc dbctx.Context, limit int) ([]*domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	var claimed []*domain.GenerationJob

	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var due []domain.GenerationJob
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_poll_at IS NOT NULL AND next_poll_at <= ?",
				[]string{string(domain.StatusPending), string(domain.StatusRunning)}, now).
			Order("next_poll_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		for i := range due {
			claimed = append(claimed, &due[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
