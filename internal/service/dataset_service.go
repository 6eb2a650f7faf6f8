package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/storage"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// ResultEvicter removes a cached result from every tier.
type ResultEvicter interface {
	Evict(ctx context.Context, key string) error
}

// UploadRequest is an uploaded dataset file.
type UploadRequest struct {
	Name     string
	Filename string
	MimeType string
	Body     io.Reader
	Size     int64
}

// UploadResult is the dataset created by an upload and its first job.
type UploadResult struct {
	Dataset *domain.Dataset       `json:"dataset"`
	Job     *domain.ProcessingJob `json:"job"`
}

// DatasetService creates datasets and the jobs that process them.
//
// A job's record and its queue message are written together: the message is
// published inside the transaction that inserts the PENDING job, so a failed
// publish leaves no job behind and is returned to the caller.
type DatasetService interface {
	// Upload stores the file, records the dataset and starts its first job.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// CreateJob starts a new job for an existing dataset.
	CreateJob(ctx context.Context, datasetID uuid.UUID) (*domain.ProcessingJob, error)

	// Delete removes the dataset, its jobs, their cached results and the stored file.
	Delete(ctx context.Context, datasetID uuid.UUID) error
}

type datasetServiceImpl struct {
	db        *sql.DB
	datasets  store.DatasetStore
	jobs      store.JobStore
	files     storage.FileStore
	publisher queue.Publisher
	results   ResultEvicter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDatasetService creates a DatasetService. m may be nil.
// It returns an error if any of the required dependencies are nil.
func NewDatasetService(
	db *sql.DB,
	datasets store.DatasetStore,
	jobs store.JobStore,
	files storage.FileStore,
	publisher queue.Publisher,
	results ResultEvicter,
	m *metrics.Metrics,
	logger *slog.Logger,
) (DatasetService, error) {
	if db == nil {
		return nil, domain.NewValidationError("db", "cannot be nil", domain.ErrValidation)
	}
	if datasets == nil {
		return nil, domain.NewValidationError("datasets", "cannot be nil", domain.ErrValidation)
	}
	if jobs == nil {
		return nil, domain.NewValidationError("jobs", "cannot be nil", domain.ErrValidation)
	}
	if files == nil {
		return nil, domain.NewValidationError("files", "cannot be nil", domain.ErrValidation)
	}
	if publisher == nil {
		return nil, domain.NewValidationError("publisher", "cannot be nil", domain.ErrValidation)
	}
	if results == nil {
		return nil, domain.NewValidationError("results", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &datasetServiceImpl{
		db:        db,
		datasets:  datasets,
		jobs:      jobs,
		files:     files,
		publisher: publisher,
		results:   results,
		metrics:   m,
		logger:    logger.With(slog.String("component", "dataset_service")),
	}, nil
}

// Upload implements DatasetService.Upload
func (s *datasetServiceImpl) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if req.Body == nil {
		return nil, domain.NewValidationError("file", "is required", domain.ErrValidation)
	}
	dataset, err := domain.NewDataset(req.Name, req.Filename, req.MimeType, req.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.files.Put(ctx, dataset.StorageKey, req.Body, req.Size, req.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store dataset file: %w", err)
	}

	job, err := domain.NewProcessingJob(dataset.ID)
	if err != nil {
		return nil, err
	}
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.datasets.WithTx(tx).Create(ctx, dataset); err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}
		if err := s.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	}, s.publishFn(job))
	if err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if errors.Is(err, store.ErrAfterCommit) {
			s.discardDataset(cleanupCtx, dataset.ID)
		}
		if delErr := s.files.Delete(cleanupCtx, dataset.StorageKey); delErr != nil {
			log.Error("failed to remove stored file after failed upload",
				slog.String("storage_key", dataset.StorageKey),
				slog.String("error", delErr.Error()))
		}
		return nil, err
	}

	log.Info("dataset uploaded",
		slog.String("dataset_id", dataset.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("filename", dataset.Filename),
		slog.Int64("size_bytes", dataset.SizeBytes))

	return &UploadResult{Dataset: dataset, Job: job}, nil
}

// CreateJob implements DatasetService.CreateJob
func (s *datasetServiceImpl) CreateJob(ctx context.Context, datasetID uuid.UUID) (*domain.ProcessingJob, error) {
	if _, err := s.datasets.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}

	job, err := domain.NewProcessingJob(datasetID)
	if err != nil {
		return nil, err
	}
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	}, s.publishFn(job))
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("job created",
		slog.String("dataset_id", datasetID.String()),
		slog.String("job_id", job.ID.String()))
	return job, nil
}

// publishFn returns the post-commit step that enqueues job. It runs after
// the job row is committed, so a worker receiving the message can always
// load the job.
//
// When the publish fails the PENDING row is deleted again and the publish
// error is returned. If a worker has already claimed the job, the broker
// did deliver the message and the publish counts as done.
func (s *datasetServiceImpl) publishFn(job *domain.ProcessingJob) store.AfterCommitFn {
	return func(ctx context.Context) error {
		log := logger.FromContextOrDefault(ctx, s.logger).With(
			slog.String("job_id", job.ID.String()))

		msg := queue.Message{ProcessingJobID: job.ID, DatasetID: job.DatasetID}
		pubErr := s.publisher.Publish(ctx, msg)
		if pubErr == nil {
			s.metrics.ObserveEnqueue(metrics.OutcomeSuccess)
			return nil
		}
		s.metrics.ObserveEnqueue(metrics.OutcomeFailure)
		pubErr = fmt.Errorf("failed to enqueue job %s: %w", job.ID, pubErr)

		delErr := s.jobs.DeletePending(context.WithoutCancel(ctx), job.ID)
		switch {
		case delErr == nil:
			log.Warn("removed job whose message could not be published",
				slog.String("error", pubErr.Error()))
		case errors.Is(delErr, store.ErrStatusConflict):
			log.Warn("publish reported failure but a worker already claimed the job",
				slog.String("error", pubErr.Error()))
			return nil
		default:
			log.Error("failed to remove unpublished job, leaving it for the pending sweep",
				slog.String("error", delErr.Error()))
		}
		return pubErr
	}
}

// discardDataset removes a dataset whose first job never reached the queue.
func (s *datasetServiceImpl) discardDataset(ctx context.Context, datasetID uuid.UUID) {
	if err := s.datasets.Delete(ctx, datasetID); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to remove dataset after failed enqueue",
			slog.String("dataset_id", datasetID.String()),
			slog.String("error", err.Error()))
	}
}

// Delete implements DatasetService.Delete
func (s *datasetServiceImpl) Delete(ctx context.Context, datasetID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("dataset_id", datasetID.String()))

	dataset, err := s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		return err
	}

	jobs, err := s.jobs.ListByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	var evictErrs []error
	for _, job := range jobs {
		if job.ResultKey == nil {
			continue
		}
		if err := s.results.Evict(ctx, *job.ResultKey); err != nil {
			evictErrs = append(evictErrs, err)
		}
	}
	if err := errors.Join(evictErrs...); err != nil {
		return fmt.Errorf("failed to evict cached results: %w", err)
	}

	if err := s.datasets.Delete(ctx, datasetID); err != nil {
		return err
	}

	if err := s.files.Delete(ctx, dataset.StorageKey); err != nil {
		log.Error("failed to remove stored dataset file",
			slog.String("storage_key", dataset.StorageKey),
			slog.String("error", err.Error()))
	}

	log.Info("dataset deleted", slog.Int("jobs", len(jobs)))
	return nil
}
