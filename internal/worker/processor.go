// Package worker drives processing jobs through their state machine.
// The Processor handles one queue message; the Runner feeds it deliveries
// from a queue.Consumer and sweeps jobs a lost worker left behind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/engine"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// ErrDatasetMissing fails a job whose dataset no longer exists.
var ErrDatasetMissing = errors.New("dataset not found")

// Outcome describes how a message was handled.
type Outcome string

// Outcome values double as metric labels.
const (
	OutcomeSucceeded Outcome = "success"
	OutcomeFailed    Outcome = "failure"
	OutcomeSkipped   Outcome = "skipped"
)

// Engine runs one dataset through the preprocessing engine.
type Engine interface {
	Process(ctx context.Context, req engine.Request) (*engine.Output, error)
}

// ResultWriter stores a result and returns its key.
type ResultWriter interface {
	Put(ctx context.Context, jobID uuid.UUID, result domain.Result) (string, error)
}

// Processor runs a single job attempt.
type Processor struct {
	jobs     store.JobStore
	datasets store.DatasetStore
	engine   Engine
	results  ResultWriter
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a Processor. It panics on a nil dependency.
func NewProcessor(
	jobs store.JobStore,
	datasets store.DatasetStore,
	eng Engine,
	results ResultWriter,
	logger *slog.Logger,
) *Processor {
	if jobs == nil {
		panic("jobs cannot be nil")
	}
	if datasets == nil {
		panic("datasets cannot be nil")
	}
	if eng == nil {
		panic("engine cannot be nil")
	}
	if results == nil {
		panic("results cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		jobs:     jobs,
		datasets: datasets,
		engine:   eng,
		results:  results,
		logger:   logger.With(slog.String("component", "job_processor")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes the job named by msg.
//
// Messages for unknown jobs, or jobs that are no longer PENDING, are skipped.
// Once the job is RUNNING, every failure is recorded as FAILED with the cause
// as its error message before the error is returned.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		slog.String("job_id", msg.ProcessingJobID.String()),
		slog.String("dataset_id", msg.DatasetID.String()))

	job, err := p.jobs.GetByID(ctx, msg.ProcessingJobID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Warn("job not found, dropping message")
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != domain.JobStatusPending {
		log.Info("job is not pending, skipping duplicate delivery",
			slog.String("status", string(job.Status)))
		return OutcomeSkipped, nil
	}
	if job.DatasetID != msg.DatasetID {
		log.Warn("message dataset does not match job, using the job's dataset",
			slog.String("job_dataset_id", job.DatasetID.String()))
	}

	dataset, datasetErr := p.datasets.GetByID(ctx, job.DatasetID)
	if datasetErr != nil {
		if !store.IsNotFoundError(datasetErr) {
			return OutcomeFailed, fmt.Errorf("failed to load dataset: %w", datasetErr)
		}
		datasetErr = fmt.Errorf("%w: %s", ErrDatasetMissing, job.DatasetID)
	}

	if err := p.jobs.MarkRunning(ctx, job.ID, p.now()); err != nil {
		if errors.Is(err, store.ErrStatusConflict) || store.IsNotFoundError(err) {
			log.Info("job was claimed elsewhere, skipping", slog.String("reason", err.Error()))
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to mark job running: %w", err)
	}
	log.Info("job running")

	// Terminal writes must land even if the caller is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	if datasetErr != nil {
		return OutcomeFailed, p.fail(writeCtx, log, job.ID, datasetErr)
	}

	out, err := p.engine.Process(ctx, engine.Request{
		JobID:    job.ID,
		FileKey:  dataset.StorageKey,
		Filename: dataset.Filename,
		MimeType: dataset.MimeType,
	})
	if err != nil {
		return OutcomeFailed, p.fail(writeCtx, log, job.ID, err)
	}

	resultKey, err := p.results.Put(writeCtx, job.ID, out.Result)
	if err != nil {
		return OutcomeFailed, p.fail(writeCtx, log, job.ID, fmt.Errorf("failed to store result: %w", err))
	}

	if err := p.jobs.MarkSucceeded(writeCtx, job.ID, resultKey, p.now()); err != nil {
		return OutcomeFailed, p.fail(writeCtx, log, job.ID, fmt.Errorf("failed to mark job succeeded: %w", err))
	}

	log.Info("job succeeded",
		slog.String("result_key", resultKey),
		slog.Int("rows", out.Rows))
	return OutcomeSucceeded, nil
}

// fail records cause on the job and returns it, joined with any error
// from recording it.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, jobID uuid.UUID, cause error) error {
	log.Error("job failed", slog.String("error", cause.Error()))

	if err := p.jobs.MarkFailed(ctx, jobID, cause.Error(), p.now()); err != nil {
		log.Error("failed to record job failure", slog.String("error", err.Error()))
		return errors.Join(cause, fmt.Errorf("failed to mark job failed: %w", err))
	}
	return cause
}
