package engine

import (
	"errors"
	"fmt"
)

// ErrEngine is wrapped by every error the client returns, so callers can
// treat all engine-side failures as one kind.
var ErrEngine = errors.New("preprocessing engine error")

// Specific engine failures. Each wraps ErrEngine.
var (
	// ErrUnsupportedFormat is returned before any I/O when the dataset is not CSV.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrEngine)

	// ErrInvalidDataset is returned when the stored file cannot be read or parsed as CSV.
	ErrInvalidDataset = fmt.Errorf("%w: invalid dataset file", ErrEngine)

	// ErrEngineUnavailable is returned when the request could not be delivered.
	ErrEngineUnavailable = fmt.Errorf("%w: engine unavailable", ErrEngine)

	// ErrEngineTimeout is returned when the engine did not answer in time.
	ErrEngineTimeout = fmt.Errorf("%w: engine timed out", ErrEngine)

	// ErrBadStatus is returned for a non-2xx response.
	ErrBadStatus = fmt.Errorf("%w: unexpected status", ErrEngine)

	// ErrInvalidResponse is returned when the response body cannot be decoded.
	ErrInvalidResponse = fmt.Errorf("%w: invalid response", ErrEngine)

	// ErrContractViolation is returned when the response echoes a different job ID.
	ErrContractViolation = fmt.Errorf("%w: contract violation", ErrEngine)

	// ErrStorageWriteFailed is returned when the engine reports its own cache write failed.
	ErrStorageWriteFailed = fmt.Errorf("%w: engine storage write failed", ErrEngine)
)
