//go:build integration

// Package testdb connects integration tests to a real Postgres database.
//
// Tests call Open to get a migrated *sql.DB and run each case inside WithTx,
// which rolls the transaction back when the case finishes, so cases can run
// in parallel without cleanup:
//
//	func TestJobStore(t *testing.T) {
//	    db := testdb.Open(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        jobs := postgres.NewPostgresJobStore(tx, nil)
//	        ...
//	    })
//	}
//
// Open skips the test when DATAPREP_TEST_DATABASE_URL is not set. Run with:
//
//	DATAPREP_TEST_DATABASE_URL=postgres://... go test -tags=integration ./...
package testdb
