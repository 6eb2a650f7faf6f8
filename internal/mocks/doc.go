// Package mocks provides in-memory test doubles for the store and queue
// interfaces. The stores keep real state and follow the same conditional
// status rules as Postgres; any Fn field replaces the default behavior of
// its method.
//
//	jobs := mocks.NewMockJobStore()
//	jobs.MarkRunningFn = func(ctx context.Context, id uuid.UUID, at time.Time) error {
//	    return store.ErrTransactionFailed
//	}
package mocks
