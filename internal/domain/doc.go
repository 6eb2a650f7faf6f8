// Package domain contains the entities of the dataset preprocessing pipeline:
// datasets, processing jobs and their lifecycle, and processing results.
// It has no dependencies on storage, transport, or the HTTP layer.
package domain
