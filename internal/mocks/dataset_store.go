package mocks

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// MockDatasetStore implements store.DatasetStore in memory.
type MockDatasetStore struct {
	CreateFn  func(ctx context.Context, dataset *domain.Dataset) error
	GetByIDFn func(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
	DeleteFn  func(ctx context.Context, id uuid.UUID) error

	// OnDelete runs after a dataset is removed, e.g. to cascade to a job store.
	OnDelete func(id uuid.UUID)

	mu       sync.Mutex
	datasets map[uuid.UUID]*domain.Dataset
}

var _ store.DatasetStore = (*MockDatasetStore)(nil)

// NewMockDatasetStore creates an empty store.
func NewMockDatasetStore() *MockDatasetStore {
	return &MockDatasetStore{datasets: make(map[uuid.UUID]*domain.Dataset)}
}

// Create implements store.DatasetStore.
func (m *MockDatasetStore) Create(ctx context.Context, dataset *domain.Dataset) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, dataset)
	}
	if err := dataset.Validate(); err != nil {
		return store.ErrInvalidEntity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.datasets[dataset.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *dataset
	m.datasets[dataset.ID] = &cp
	return nil
}

// GetByID implements store.DatasetStore.
func (m *MockDatasetStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return nil, store.ErrDatasetNotFound
	}
	cp := *ds
	return &cp, nil
}

// Delete implements store.DatasetStore.
func (m *MockDatasetStore) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}

	m.mu.Lock()
	_, ok := m.datasets[id]
	delete(m.datasets, id)
	m.mu.Unlock()

	if !ok {
		return store.ErrDatasetNotFound
	}
	if m.OnDelete != nil {
		m.OnDelete(id)
	}
	return nil
}

// WithTx implements store.DatasetStore.
func (m *MockDatasetStore) WithTx(*sql.Tx) store.DatasetStore {
	return m
}
