package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/dataprep-api/internal/api/shared"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/export"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/service"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// errUploadTooLarge is returned when the request body exceeds the upload limit.
var errUploadTooLarge = errors.New("upload exceeds size limit")

// MapErrorToStatusCode maps internal errors to HTTP status codes.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrResultNotReady),
		errors.Is(err, service.ErrResultUnavailable),
		errors.Is(err, store.ErrStatusConflict):
		return http.StatusConflict

	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, queue.ErrPublishFailed),
		errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return "Unauthorized"

	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrDatasetNotFound):
		return "Dataset not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, service.ErrResultNotReady):
		return "Job result is not ready"
	case errors.Is(err, service.ErrResultUnavailable):
		return "Job result is no longer available"
	case errors.Is(err, store.ErrStatusConflict):
		return "Job status changed concurrently"

	case errors.Is(err, errUploadTooLarge):
		return "Uploaded file is too large"

	case errors.Is(err, export.ErrInvalidFormat):
		return "Invalid export format: must be one of json, csv, txt"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID format"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return SanitizeValidationError(err)

	case errors.Is(err, queue.ErrPublishFailed),
		errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrQueueClosed):
		return "Job queue is unavailable, try again later"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validation failure into a short message
// naming the offending field, without internal detail.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return "Invalid " + strings.ToLower(fe.Field()) + ": " + getValidationTagMessage(fe.Tag())
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		return "Invalid " + ve.Field + ": " + ve.Message
	}

	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted detail. fallbackMsg replaces the generic message for 5xx errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && fallbackMsg != "" {
		message = fallbackMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
