package db

import (
	"fmt"

	jobs "github.com/neurobridge/genjobs/internal/domain/jobs"
	"gorm.io/gorm"
)

// AutoMigrateAll creates/updates the two tables this service owns and the
// indexes the job store's claim and idempotency logic depend on. Option rows
// are written by the upstream chat/recommender system; this service only
// reads them, but still migrates the table so local/dev environments and
// tests can stand up the full schema on their own.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(&jobs.Option{}, &jobs.GenerationJob{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureGenerationJobIndexes(db)
}

// EnsureGenerationJobIndexes creates the three indexes the data model
// requires beyond what GORM struct tags express directly:
//   - a uniqueness constraint on (user_id, option_id, idempotency_key) so
//     CreateJob's insert-or-return-existing is race-safe at the DB level;
//   - a partial unique index on provider_job_set_id (nullable: many jobs
//     legitimately have no provider job set yet);
//   - a partial index on next_poll_at, scoped to the two non-terminal
//     statuses, so the scheduler's due-job scan never touches terminal rows.
func EnsureGenerationJobIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_job_idempotency
		 ON generation_job (user_id, option_id, idempotency_key)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_job_provider_set_id_notnull
		 ON generation_job (provider_job_set_id)
		 WHERE provider_job_set_id IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_generation_job_next_poll_at
		 ON generation_job (next_poll_at)
		 WHERE status IN ('PENDING', 'RUNNING')`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("ensure generation_job indexes: %w", err)
		}
	}
	return nil
}
