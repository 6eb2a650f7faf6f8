package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// MockJobStore implements store.JobStore in memory. Status changes follow the
// same conditional rules as the Postgres store. Any Fn field overrides the
// default behavior of its method.
type MockJobStore struct {
	CreateFn        func(ctx context.Context, job *domain.ProcessingJob) error
	GetByIDFn       func(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error)
	MarkRunningFn   func(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	MarkSucceededFn func(ctx context.Context, id uuid.UUID, resultKey string, completedAt time.Time) error
	MarkFailedFn    func(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time) error
	TouchPendingFn  func(ctx context.Context, id uuid.UUID, at time.Time) error
	DeletePendingFn func(ctx context.Context, id uuid.UUID) error
	ListByStatusFn  func(ctx context.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]*domain.ProcessingJob, error)
	ListByDatasetFn func(ctx context.Context, datasetID uuid.UUID) ([]*domain.ProcessingJob, error)

	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.ProcessingJob
	// history records every status a job has been in, in order.
	history map[uuid.UUID][]domain.JobStatus
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore creates an empty store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:    make(map[uuid.UUID]*domain.ProcessingJob),
		history: make(map[uuid.UUID][]domain.JobStatus),
	}
}

// Put stores a copy of job as is, bypassing validation.
func (m *MockJobStore) Put(job *domain.ProcessingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	m.history[job.ID] = append(m.history[job.ID], job.Status)
}

// History returns the statuses a job has passed through.
func (m *MockJobStore) History(id uuid.UUID) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobStatus(nil), m.history[id]...)
}

// Create implements store.JobStore.
func (m *MockJobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	if err := job.Validate(); err != nil {
		return store.ErrInvalidEntity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.history[job.ID] = append(m.history[job.ID], job.Status)
	return nil
}

// GetByID implements store.JobStore.
func (m *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// MarkRunning implements store.JobStore.
func (m *MockJobStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	if m.MarkRunningFn != nil {
		return m.MarkRunningFn(ctx, id, startedAt)
	}
	return m.update(id, domain.JobStatusPending, func(j *domain.ProcessingJob) error {
		return j.Start(startedAt)
	})
}

// MarkSucceeded implements store.JobStore.
func (m *MockJobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, resultKey string, completedAt time.Time) error {
	if m.MarkSucceededFn != nil {
		return m.MarkSucceededFn(ctx, id, resultKey, completedAt)
	}
	return m.update(id, domain.JobStatusRunning, func(j *domain.ProcessingJob) error {
		return j.Succeed(resultKey, completedAt)
	})
}

// MarkFailed implements store.JobStore.
func (m *MockJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time) error {
	if m.MarkFailedFn != nil {
		return m.MarkFailedFn(ctx, id, errorMessage, completedAt)
	}
	return m.update(id, domain.JobStatusRunning, func(j *domain.ProcessingJob) error {
		return j.Fail(errorMessage, completedAt)
	})
}

func (m *MockJobStore) update(id uuid.UUID, expected domain.JobStatus, apply func(*domain.ProcessingJob) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != expected {
		return store.ErrStatusConflict
	}

	cp := *job
	if err := apply(&cp); err != nil {
		return store.ErrInvalidEntity
	}
	m.jobs[id] = &cp
	if cp.Status != job.Status {
		m.history[id] = append(m.history[id], cp.Status)
	}
	return nil
}

// TouchPending implements store.JobStore.
func (m *MockJobStore) TouchPending(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.TouchPendingFn != nil {
		return m.TouchPendingFn(ctx, id, at)
	}
	return m.update(id, domain.JobStatusPending, func(j *domain.ProcessingJob) error {
		j.UpdatedAt = at
		return nil
	})
}

// DeletePending implements store.JobStore.
func (m *MockJobStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	if m.DeletePendingFn != nil {
		return m.DeletePendingFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return store.ErrStatusConflict
	}
	delete(m.jobs, id)
	return nil
}

// ListByStatus implements store.JobStore.
func (m *MockJobStore) ListByStatus(
	ctx context.Context,
	status domain.JobStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.ProcessingJob, error) {
	if m.ListByStatusFn != nil {
		return m.ListByStatusFn(ctx, status, olderThan, limit)
	}

	m.mu.Lock()
	var out []*domain.ProcessingJob
	for _, job := range m.jobs {
		if job.Status == status && job.UpdatedAt.Before(olderThan) {
			cp := *job
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByDataset implements store.JobStore.
func (m *MockJobStore) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*domain.ProcessingJob, error) {
	if m.ListByDatasetFn != nil {
		return m.ListByDatasetFn(ctx, datasetID)
	}

	m.mu.Lock()
	var out []*domain.ProcessingJob
	for _, job := range m.jobs {
		if job.DatasetID == datasetID {
			cp := *job
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteByDataset removes a dataset's jobs, mirroring ON DELETE CASCADE.
func (m *MockJobStore) DeleteByDataset(datasetID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if job.DatasetID == datasetID {
			delete(m.jobs, id)
		}
	}
}

// WithTx implements store.JobStore. The mock has no transactions.
func (m *MockJobStore) WithTx(*sql.Tx) store.JobStore {
	return m
}
