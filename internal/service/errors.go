// Package service holds the application services behind the HTTP API: the
// job query/export service and the dataset upload flow that creates jobs.
package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// The API layer maps them to HTTP status codes.
var (
	// ErrResultNotReady indicates the job exists but has not succeeded, so it
	// has no result yet. API layer should map this to HTTP 409 Conflict.
	ErrResultNotReady = errors.New("job result is not ready")

	// ErrResultUnavailable indicates a succeeded job whose result is missing
	// from every cache tier. API layer should map this to HTTP 409 Conflict.
	ErrResultUnavailable = errors.New("job result is no longer available")
)
