package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/export"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// ResultReader resolves a result key. A nil result with a nil error means
// the key is in no tier.
type ResultReader interface {
	Get(ctx context.Context, key string) (domain.Result, error)
}

// JobStatusView is the status of a job as shown to clients.
type JobStatusView struct {
	ID           uuid.UUID        `json:"id"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage *string          `json:"errorMessage"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    *time.Time       `json:"startedAt"`
	CompletedAt  *time.Time       `json:"completedAt"`
	DatasetID    uuid.UUID        `json:"datasetId"`
	DatasetName  string           `json:"datasetName"`
}

// JobResultView carries a job's result. Result is JSON null until the job
// has succeeded.
type JobResultView struct {
	JobID  uuid.UUID        `json:"jobId"`
	Status domain.JobStatus `json:"status"`
	Result json.RawMessage  `json:"result"`
}

// ExportDocument is a rendered result ready to download.
type ExportDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// JobService answers status, result and export queries. It never changes
// job state.
type JobService interface {
	// GetStatus returns the job's current fields and its dataset's name.
	GetStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error)

	// GetResult returns the job's result, or a null result while it has none.
	GetResult(ctx context.Context, jobID uuid.UUID) (*JobResultView, error)

	// Export renders the job's result as json, csv or txt.
	// The format is validated before anything is read.
	Export(ctx context.Context, jobID uuid.UUID, format string) (*ExportDocument, error)
}

type jobServiceImpl struct {
	jobs     store.JobStore
	datasets store.DatasetStore
	results  ResultReader
	logger   *slog.Logger
}

// NewJobService creates a JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(
	jobs store.JobStore,
	datasets store.DatasetStore,
	results ResultReader,
	logger *slog.Logger,
) (JobService, error) {
	if jobs == nil {
		return nil, domain.NewValidationError("jobs", "cannot be nil", domain.ErrValidation)
	}
	if datasets == nil {
		return nil, domain.NewValidationError("datasets", "cannot be nil", domain.ErrValidation)
	}
	if results == nil {
		return nil, domain.NewValidationError("results", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		jobs:     jobs,
		datasets: datasets,
		results:  results,
		logger:   logger.With(slog.String("component", "job_service")),
	}, nil
}

// GetStatus implements JobService.GetStatus
func (s *jobServiceImpl) GetStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobStatusView{
		ID:           job.ID,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		DatasetID:    job.DatasetID,
	}

	dataset, err := s.datasets.GetByID(ctx, job.DatasetID)
	switch {
	case err == nil:
		view.DatasetName = dataset.Name
	case store.IsNotFoundError(err):
		logger.FromContextOrDefault(ctx, s.logger).Warn("job references a missing dataset",
			slog.String("job_id", job.ID.String()),
			slog.String("dataset_id", job.DatasetID.String()))
	default:
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	return view, nil
}

// GetResult implements JobService.GetResult
func (s *jobServiceImpl) GetResult(ctx context.Context, jobID uuid.UUID) (*JobResultView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobResultView{JobID: job.ID, Status: job.Status}
	if job.ResultKey == nil {
		return view, nil
	}

	res, err := s.lookup(ctx, *job.ResultKey)
	if err != nil {
		return nil, err
	}
	raw, err := res.RawJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	view.Result = raw
	return view, nil
}

// Export implements JobService.Export
func (s *jobServiceImpl) Export(ctx context.Context, jobID uuid.UUID, format string) (*ExportDocument, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ResultKey == nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrResultNotReady, job.ID, job.Status)
	}

	res, err := s.lookup(ctx, *job.ResultKey)
	if err != nil {
		return nil, err
	}

	body, err := export.Render(res, f)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", f, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("rendered export",
		slog.String("job_id", job.ID.String()),
		slog.String("format", string(f)),
		slog.Int("bytes", len(body)))

	return &ExportDocument{
		Filename:    fmt.Sprintf("job-%s.%s", job.ID, f.Extension()),
		ContentType: f.ContentType(),
		Body:        body,
	}, nil
}

func (s *jobServiceImpl) lookup(ctx context.Context, key string) (domain.Result, error) {
	res, err := s.results.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrResultUnavailable, key)
	}
	return res, nil
}
