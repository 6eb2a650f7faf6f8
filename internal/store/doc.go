// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the pipeline's core logic, so the worker and the query service never
// depend on a specific database.
package store
