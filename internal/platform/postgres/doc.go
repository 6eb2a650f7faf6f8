// Package postgres provides PostgreSQL implementations of the store
// interfaces for datasets and processing jobs, plus the embedded schema
// migrations applied by goose.
package postgres
