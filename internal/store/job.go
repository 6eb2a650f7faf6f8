package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
)

// JobStore defines the interface for processing job persistence.
//
// Status changes are conditional updates: each Mark* method only touches a
// row whose current status is the one the transition starts from. When no
// row matches, the method returns ErrJobNotFound if the job does not exist
// and ErrStatusConflict if it exists in another status.
type JobStore interface {
	// Create inserts a new PENDING job.
	// Returns ErrInvalidEntity if the job fails validation.
	Create(ctx context.Context, job *domain.ProcessingJob) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error)

	// MarkRunning moves a PENDING job to RUNNING and stamps started_at.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// MarkSucceeded moves a RUNNING job to SUCCESS, setting result_key and
	// completed_at in the same statement.
	MarkSucceeded(ctx context.Context, id uuid.UUID, resultKey string, completedAt time.Time) error

	// MarkFailed moves a RUNNING job to FAILED, setting error_message and
	// completed_at in the same statement.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time) error

	// TouchPending stamps updated_at on a PENDING job so stale-job sweeps
	// measure its age from the latest requeue.
	TouchPending(ctx context.Context, id uuid.UUID, at time.Time) error

	// DeletePending removes a job that is still PENDING. It undoes a job
	// whose queue message could not be published.
	DeletePending(ctx context.Context, id uuid.UUID) error

	// ListByStatus returns up to limit jobs in the given status whose
	// updated_at is older than olderThan, oldest first.
	ListByStatus(
		ctx context.Context,
		status domain.JobStatus,
		olderThan time.Time,
		limit int,
	) ([]*domain.ProcessingJob, error)

	// ListByDataset returns every job for a dataset, newest first.
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*domain.ProcessingJob, error)

	// WithTx returns a JobStore bound to tx.
	//
	//   err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
	//       return jobs.WithTx(tx).Create(ctx, job)
	//   }, publish)
	WithTx(tx *sql.Tx) JobStore
}
