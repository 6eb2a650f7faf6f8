//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/dataprep-api/internal/config"
	"github.com/phrazzld/dataprep-api/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// URLEnvVar names the environment variable holding the test database URL.
const URLEnvVar = "DATAPREP_TEST_DATABASE_URL"

// TestTimeout bounds connection and migration work.
const TestTimeout = 30 * time.Second

var migrateOnce sync.Map

// Open returns a connection to the test database with all migrations
// applied, or skips the test when no database is configured.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv(URLEnvVar)
	if url == "" {
		t.Skipf("%s not set, skipping integration test", URLEnvVar)
	}

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := postgres.Open(ctx, config.DatabaseConfig{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close test database: %v", err)
		}
	})

	once, _ := migrateOnce.LoadOrStore(url, &sync.Once{})
	var migrateErr error
	once.(*sync.Once).Do(func() {
		migrateErr = postgres.Migrate(ctx, db, postgres.MigrateUp, nil)
	})
	require.NoError(t, migrateErr, "failed to migrate test database")

	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}
