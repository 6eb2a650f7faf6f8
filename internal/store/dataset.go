package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
)

// DatasetStore defines the interface for dataset persistence.
type DatasetStore interface {
	// Create inserts a dataset record.
	// Returns ErrInvalidEntity if the dataset fails validation.
	Create(ctx context.Context, dataset *domain.Dataset) error

	// GetByID retrieves a dataset by its unique ID.
	// Returns ErrDatasetNotFound if the dataset does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)

	// Delete removes a dataset by its ID.
	// Processing jobs referencing it are removed by ON DELETE CASCADE.
	// Returns ErrDatasetNotFound if the dataset does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new DatasetStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) DatasetStore
}
