package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// PostgresDatasetStore implements the store.DatasetStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDatasetStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDatasetStore creates a new PostgreSQL implementation of the DatasetStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresDatasetStore(db store.DBTX, logger *slog.Logger) *PostgresDatasetStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDatasetStore{
		db:     db,
		logger: logger.With(slog.String("component", "dataset_store")),
	}
}

// Ensure PostgresDatasetStore implements store.DatasetStore interface
var _ store.DatasetStore = (*PostgresDatasetStore)(nil)

// Create implements store.DatasetStore.Create.
func (s *PostgresDatasetStore) Create(ctx context.Context, dataset *domain.Dataset) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := dataset.Validate(); err != nil {
		log.Warn("dataset validation failed during create",
			slog.String("error", err.Error()),
			slog.String("dataset_id", dataset.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO datasets (id, name, filename, mime_type, storage_key, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		dataset.ID,
		dataset.Name,
		dataset.Filename,
		dataset.MimeType,
		dataset.StorageKey,
		dataset.SizeBytes,
		dataset.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create dataset",
			slog.String("error", err.Error()),
			slog.String("dataset_id", dataset.ID.String()))
		return MapError(err)
	}

	log.Info("dataset created",
		slog.String("dataset_id", dataset.ID.String()),
		slog.String("filename", dataset.Filename),
		slog.Int64("size_bytes", dataset.SizeBytes))
	return nil
}

// GetByID implements store.DatasetStore.GetByID.
func (s *PostgresDatasetStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, name, filename, mime_type, storage_key, size_bytes, created_at
		FROM datasets
		WHERE id = $1
	`

	var ds domain.Dataset
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ds.ID,
		&ds.Name,
		&ds.Filename,
		&ds.MimeType,
		&ds.StorageKey,
		&ds.SizeBytes,
		&ds.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("dataset not found", slog.String("dataset_id", id.String()))
			return nil, store.ErrDatasetNotFound
		}
		log.Error("failed to get dataset by ID",
			slog.String("error", err.Error()),
			slog.String("dataset_id", id.String()))
		return nil, MapError(err)
	}

	return &ds, nil
}

// Delete implements store.DatasetStore.Delete.
func (s *PostgresDatasetStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete dataset",
			slog.String("error", err.Error()),
			slog.String("dataset_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrDatasetNotFound); err != nil {
		return err
	}

	log.Info("dataset deleted", slog.String("dataset_id", id.String()))
	return nil
}

// WithTx implements store.DatasetStore.WithTx.
func (s *PostgresDatasetStore) WithTx(tx *sql.Tx) store.DatasetStore {
	return &PostgresDatasetStore{
		db:     tx,
		logger: s.logger,
	}
}
