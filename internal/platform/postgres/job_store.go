package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/store"
)

const jobColumns = `id, dataset_id, status, error_message, result_key,
		created_at, started_at, completed_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Create implements store.JobStore.Create.
// Returns store.ErrInvalidEntity if the dataset does not exist.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO processing_jobs (id, dataset_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.DatasetID,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("dataset missing during job creation",
				slog.String("job_id", job.ID.String()),
				slog.String("dataset_id", job.DatasetID.String()))
			return fmt.Errorf("%w: dataset with ID %s not found",
				store.ErrInvalidEntity, job.DatasetID)
		}
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("dataset_id", job.DatasetID.String()))
	return nil
}

// GetByID implements store.JobStore.GetByID.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id.String()))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, MapError(err)
	}

	return job, nil
}

// MarkRunning implements store.JobStore.MarkRunning.
func (s *PostgresJobStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE processing_jobs
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	return s.conditionalUpdate(ctx, "mark_running", id, query,
		id, domain.JobStatusRunning, startedAt.UTC(), domain.JobStatusPending)
}

// MarkSucceeded implements store.JobStore.MarkSucceeded.
func (s *PostgresJobStore) MarkSucceeded(
	ctx context.Context,
	id uuid.UUID,
	resultKey string,
	completedAt time.Time,
) error {
	if resultKey == "" {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrEmptyResultKey)
	}
	query := `
		UPDATE processing_jobs
		SET status = $2, result_key = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`
	return s.conditionalUpdate(ctx, "mark_succeeded", id, query,
		id, domain.JobStatusSuccess, resultKey, completedAt.UTC(), domain.JobStatusRunning)
}

// MarkFailed implements store.JobStore.MarkFailed.
func (s *PostgresJobStore) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	errorMessage string,
	completedAt time.Time,
) error {
	if errorMessage == "" {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrEmptyErrorMessage)
	}
	query := `
		UPDATE processing_jobs
		SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`
	return s.conditionalUpdate(ctx, "mark_failed", id, query,
		id, domain.JobStatusFailed, errorMessage, completedAt.UTC(), domain.JobStatusRunning)
}

// TouchPending implements store.JobStore.TouchPending.
func (s *PostgresJobStore) TouchPending(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE processing_jobs
		SET updated_at = $2
		WHERE id = $1 AND status = $3
	`
	return s.conditionalUpdate(ctx, "touch_pending", id, query,
		id, at.UTC(), domain.JobStatusPending)
}

// DeletePending implements store.JobStore.DeletePending.
func (s *PostgresJobStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM processing_jobs WHERE id = $1 AND status = $2`
	return s.conditionalUpdate(ctx, "delete_pending", id, query,
		id, domain.JobStatusPending)
}

// conditionalUpdate runs a status-guarded UPDATE or DELETE. When nothing matched it
// tells a missing job apart from one that is in another status.
func (s *PostgresJobStore) conditionalUpdate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("job status update failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	err = CheckRowsAffected(result, store.ErrStatusConflict)
	if err == nil {
		log.Debug("job status updated",
			slog.String("operation", op),
			slog.String("job_id", id.String()))
		return nil
	}
	if !errors.Is(err, store.ErrStatusConflict) {
		return err
	}

	var current domain.JobStatus
	lookupErr := s.db.QueryRowContext(ctx,
		`SELECT status FROM processing_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return store.ErrJobNotFound
	}
	if lookupErr != nil {
		return MapError(lookupErr)
	}

	log.Warn("job status changed concurrently",
		slog.String("operation", op),
		slog.String("job_id", id.String()),
		slog.String("current_status", string(current)))
	return fmt.Errorf("%w: job %s is %s", store.ErrStatusConflict, id, current)
}

// ListByStatus implements store.JobStore.ListByStatus.
func (s *PostgresJobStore) ListByStatus(
	ctx context.Context,
	status domain.JobStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	return s.queryJobs(ctx, query, status, olderThan.UTC(), limit)
}

// ListByDataset implements store.JobStore.ListByDataset.
func (s *PostgresJobStore) ListByDataset(
	ctx context.Context,
	datasetID uuid.UUID,
) ([]*domain.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE dataset_id = $1
		ORDER BY created_at DESC`
	return s.queryJobs(ctx, query, datasetID)
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.ProcessingJob, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, MapError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return jobs, nil
}

// WithTx implements store.JobStore.WithTx.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ProcessingJob, error) {
	var (
		job          domain.ProcessingJob
		status       string
		errorMessage sql.NullString
		resultKey    sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.DatasetID,
		&status,
		&errorMessage,
		&resultKey,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if resultKey.Valid {
		job.ResultKey = &resultKey.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}

	return &job, nil
}
