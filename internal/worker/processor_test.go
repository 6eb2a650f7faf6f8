package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/engine"
	"github.com/phrazzld/dataprep-api/internal/mocks"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	ProcessFn func(ctx context.Context, req engine.Request) (*engine.Output, error)

	mu    sync.Mutex
	calls []engine.Request
}

func (m *mockEngine) Process(ctx context.Context, req engine.Request) (*engine.Output, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.ProcessFn != nil {
		return m.ProcessFn(ctx, req)
	}
	return &engine.Output{
		Result: domain.OpaqueResult{Value: json.RawMessage(`{"rows":3}`)},
		Status: "done",
		Rows:   3,
	}, nil
}

func (m *mockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockResults struct {
	PutFn func(ctx context.Context, jobID uuid.UUID, result domain.Result) (string, error)

	mu   sync.Mutex
	puts int
}

func (m *mockResults) Put(ctx context.Context, jobID uuid.UUID, result domain.Result) (string, error) {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	if m.PutFn != nil {
		return m.PutFn(ctx, jobID, result)
	}
	return domain.ResultKeyFor(jobID), nil
}

type processorFixture struct {
	jobs      *mocks.MockJobStore
	datasets  *mocks.MockDatasetStore
	engine    *mockEngine
	results   *mockResults
	processor *Processor
	dataset   *domain.Dataset
	job       *domain.ProcessingJob
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	f := &processorFixture{
		jobs:     mocks.NewMockJobStore(),
		datasets: mocks.NewMockDatasetStore(),
		engine:   &mockEngine{},
		results:  &mockResults{},
	}
	log, _ := logger.NewTestLogger()
	f.processor = NewProcessor(f.jobs, f.datasets, f.engine, f.results, log)

	ds, err := domain.NewDataset("sales", "sales.csv", "text/csv", 42)
	require.NoError(t, err)
	require.NoError(t, f.datasets.Create(context.Background(), ds))
	f.dataset = ds

	job, err := domain.NewProcessingJob(ds.ID)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Create(context.Background(), job))
	f.job = job

	return f
}

func (f *processorFixture) message() queue.Message {
	return queue.Message{ProcessingJobID: f.job.ID, DatasetID: f.dataset.ID}
}

func (f *processorFixture) reload(t *testing.T) *domain.ProcessingJob {
	t.Helper()
	job, err := f.jobs.GetByID(context.Background(), f.job.ID)
	require.NoError(t, err)
	return job
}

func TestHandle_Success(t *testing.T) {
	f := newProcessorFixture(t)

	f.engine.ProcessFn = func(_ context.Context, req engine.Request) (*engine.Output, error) {
		current, err := f.jobs.GetByID(context.Background(), req.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, current.Status, "RUNNING must be written before the engine call")

		assert.Equal(t, f.dataset.StorageKey, req.FileKey)
		assert.Equal(t, "sales.csv", req.Filename)
		assert.Equal(t, "text/csv", req.MimeType)
		return &engine.Output{Result: domain.OpaqueResult{Value: json.RawMessage(`{}`)}, Rows: 3}, nil
	}

	outcome, err := f.processor.Handle(context.Background(), f.message())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	job := f.reload(t)
	assert.Equal(t, domain.JobStatusSuccess, job.Status)
	require.NotNil(t, job.ResultKey)
	assert.Equal(t, "processed:"+job.ID.String(), *job.ResultKey)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.ErrorMessage)
	assert.NoError(t, job.Validate())

	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusSuccess,
	}, f.jobs.History(job.ID))
}

func TestHandle_EngineFailure(t *testing.T) {
	f := newProcessorFixture(t)
	f.engine.ProcessFn = func(context.Context, engine.Request) (*engine.Output, error) {
		return nil, engine.ErrEngineTimeout
	}

	outcome, err := f.processor.Handle(context.Background(), f.message())
	assert.ErrorIs(t, err, engine.ErrEngine)
	assert.Equal(t, OutcomeFailed, outcome)

	job := f.reload(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "timed out")
	assert.Nil(t, job.ResultKey)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 0, f.results.puts, "no cache write on failure")
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusFailed,
	}, f.jobs.History(job.ID))
}

func TestHandle_MissingDatasetFailsWithoutCallingEngine(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.datasets.Delete(context.Background(), f.dataset.ID))

	outcome, err := f.processor.Handle(context.Background(), f.message())
	assert.ErrorIs(t, err, ErrDatasetMissing)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, f.engine.Calls())

	job := f.reload(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "dataset not found")
}

func TestHandle_CacheFailureFailsJob(t *testing.T) {
	f := newProcessorFixture(t)
	f.results.PutFn = func(context.Context, uuid.UUID, domain.Result) (string, error) {
		return "", errors.New("redis down")
	}

	outcome, err := f.processor.Handle(context.Background(), f.message())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	job := f.reload(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, *job.ErrorMessage, "redis down")
}

func TestHandle_Skips(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		f := newProcessorFixture(t)
		msg := queue.Message{ProcessingJobID: uuid.New(), DatasetID: f.dataset.ID}

		outcome, err := f.processor.Handle(context.Background(), msg)
		assert.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.Equal(t, 0, f.engine.Calls())
	})

	t.Run("duplicate delivery of a finished job", func(t *testing.T) {
		f := newProcessorFixture(t)
		_, err := f.processor.Handle(context.Background(), f.message())
		require.NoError(t, err)

		outcome, err := f.processor.Handle(context.Background(), f.message())
		assert.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.Equal(t, 1, f.engine.Calls())
		assert.Equal(t, domain.JobStatusSuccess, f.reload(t).Status)
	})

	t.Run("claimed by another worker", func(t *testing.T) {
		f := newProcessorFixture(t)
		f.jobs.MarkRunningFn = func(context.Context, uuid.UUID, time.Time) error {
			return store.ErrStatusConflict
		}

		outcome, err := f.processor.Handle(context.Background(), f.message())
		assert.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.Equal(t, 0, f.engine.Calls())
	})
}

func TestHandle_StoreUnavailable(t *testing.T) {
	f := newProcessorFixture(t)
	f.jobs.GetByIDFn = func(context.Context, uuid.UUID) (*domain.ProcessingJob, error) {
		return nil, errors.New("connection refused")
	}

	outcome, err := f.processor.Handle(context.Background(), f.message())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, f.engine.Calls())
}

func TestHandle_FailureRecordingFails(t *testing.T) {
	f := newProcessorFixture(t)
	f.engine.ProcessFn = func(context.Context, engine.Request) (*engine.Output, error) {
		return nil, engine.ErrBadStatus
	}
	f.jobs.MarkFailedFn = func(context.Context, uuid.UUID, string, time.Time) error {
		return errors.New("db gone")
	}

	_, err := f.processor.Handle(context.Background(), f.message())
	assert.ErrorIs(t, err, engine.ErrBadStatus)
	assert.Contains(t, err.Error(), "db gone")
}

func TestHandle_CancelledContextStillRecordsFailure(t *testing.T) {
	f := newProcessorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.engine.ProcessFn = func(ctx context.Context, _ engine.Request) (*engine.Output, error) {
		cancel()
		return nil, ctx.Err()
	}
	f.jobs.MarkFailedFn = func(ctx context.Context, id uuid.UUID, msg string, at time.Time) error {
		assert.NoError(t, ctx.Err(), "terminal write must not inherit cancellation")
		f.jobs.MarkFailedFn = nil
		return f.jobs.MarkFailed(ctx, id, msg, at)
	}

	_, err := f.processor.Handle(ctx, f.message())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStatusFailed, f.reload(t).Status)
}
