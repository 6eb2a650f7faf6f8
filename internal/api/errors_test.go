package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/export"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/service"
	"github.com/phrazzld/dataprep-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"job not found", store.ErrJobNotFound, http.StatusNotFound},
		{"wrapped dataset not found", fmt.Errorf("load: %w", store.ErrDatasetNotFound), http.StatusNotFound},
		{"not ready", service.ErrResultNotReady, http.StatusConflict},
		{"unavailable", service.ErrResultUnavailable, http.StatusConflict},
		{"status conflict", store.ErrStatusConflict, http.StatusConflict},
		{"too large", errUploadTooLarge, http.StatusRequestEntityTooLarge},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"invalid format", export.ErrInvalidFormat, http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"publish failed", fmt.Errorf("%w: broker down", queue.ErrPublishFailed), http.StatusServiceUnavailable},
		{"queue full", queue.ErrQueueFull, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Job not found", GetSafeErrorMessage(store.ErrJobNotFound))
	assert.Equal(t, "Dataset not found", GetSafeErrorMessage(store.ErrDatasetNotFound))
	assert.Equal(t, "Job result is not ready", GetSafeErrorMessage(service.ErrResultNotReady))
	assert.Equal(t,
		"Invalid export format: must be one of json, csv, txt",
		GetSafeErrorMessage(fmt.Errorf("%w: %q", export.ErrInvalidFormat, "xml")))
	assert.Equal(t,
		"Invalid file: is required",
		GetSafeErrorMessage(domain.NewValidationError("file", "is required", domain.ErrValidation)))

	internal := errors.New("pq: relation processing_jobs does not exist")
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(internal))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	type form struct {
		Name string `validate:"max=3"`
	}
	err := validator.New().Struct(form{Name: "too long"})

	assert.Equal(t, "Invalid name: too long", SanitizeValidationError(errors.Join(domain.ErrValidation, err)))
	assert.Equal(t, "Validation error", SanitizeValidationError(domain.ErrValidation))
}
