package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/dataprep-api/internal/platform/postgres"
	"github.com/phrazzld/dataprep-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "processing_jobs",
		ColumnName:     "dataset_id",
		ConstraintName: "processing_jobs_dataset_id_fkey",
	}
}

type mockResult struct {
	rowsAffected int64
	err          error
}

func (m mockResult) LastInsertId() (int64, error) { return 0, m.err }
func (m mockResult) RowsAffected() (int64, error) { return m.rowsAffected, m.err }

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantIs  error
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "no rows", err: sql.ErrNoRows, wantIs: store.ErrNotFound},
		{name: "unique", err: newPgError("23505"), wantIs: store.ErrDuplicate},
		{name: "foreign key", err: newPgError("23503"), wantIs: store.ErrInvalidEntity},
		{name: "check", err: newPgError("23514"), wantIs: store.ErrInvalidEntity},
		{name: "not null", err: newPgError("23502"), wantIs: store.ErrInvalidEntity},
		{name: "invalid text", err: newPgError("22P02"), wantIs: store.ErrInvalidEntity},
		{
			name:   "wrapped unique",
			err:    fmt.Errorf("insert: %w", newPgError("23505")),
			wantIs: store.ErrDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := postgres.MapError(tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.wantIs)
		})
	}

	t.Run("unmapped error is returned unchanged", func(t *testing.T) {
		t.Parallel()
		orig := errors.New("connection refused")
		assert.Equal(t, orig, postgres.MapError(orig))
	})

	t.Run("driver error is not wrapped", func(t *testing.T) {
		t.Parallel()
		mapped := postgres.MapError(newPgError("23505"))
		var pgErr *pgconn.PgError
		assert.False(t, errors.As(mapped, &pgErr))
	})
}

func TestViolationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
	assert.True(t, postgres.IsForeignKeyViolation(newPgError("23503")))
	assert.False(t, postgres.IsForeignKeyViolation(errors.New("other")))
	assert.True(t, postgres.IsNotFoundError(sql.ErrNoRows))
	assert.True(t, postgres.IsNotFoundError(store.ErrJobNotFound))
	assert.False(t, postgres.IsNotFoundError(store.ErrDuplicate))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.CheckRowsAffected(mockResult{rowsAffected: 1}, store.ErrDatasetNotFound))
	assert.ErrorIs(t,
		postgres.CheckRowsAffected(mockResult{rowsAffected: 0}, store.ErrDatasetNotFound),
		store.ErrDatasetNotFound)
	assert.ErrorIs(t, postgres.CheckRowsAffected(mockResult{rowsAffected: 0}, nil), store.ErrNotFound)
	assert.Error(t, postgres.CheckRowsAffected(nil, nil))

	resultErr := errors.New("driver does not support RowsAffected")
	assert.ErrorIs(t, postgres.CheckRowsAffected(mockResult{err: resultErr}, nil), resultErr)
}
