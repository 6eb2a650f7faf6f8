package api

import (
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/phrazzld/dataprep-api/internal/api/shared"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/service"
)

const (
	// DefaultMaxUploadBytes caps a dataset upload when no limit is configured.
	DefaultMaxUploadBytes int64 = 32 << 20

	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory int64 = 8 << 20

	fallbackMimeType = "application/octet-stream"
)

// UploadForm holds the non-file fields of a dataset upload.
type UploadForm struct {
	Name string `validate:"max=255"`
}

// DatasetHandler serves dataset uploads and job creation.
type DatasetHandler struct {
	datasets       service.DatasetService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewDatasetHandler creates a DatasetHandler. A non-positive maxUploadBytes
// selects DefaultMaxUploadBytes.
func NewDatasetHandler(datasets service.DatasetService, maxUploadBytes int64, logger *slog.Logger) *DatasetHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetHandler{
		datasets:       datasets,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "dataset_handler")),
	}
}

// Upload handles POST /api/datasets with a multipart "file" part and an
// optional "name" field. It responds 202 with the dataset and its first job.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleAPIError(w, r, errUploadTooLarge, "")
			return
		}
		HandleAPIError(w, r,
			domain.NewValidationError("body", "must be multipart/form-data", domain.ErrValidation), "")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", slog.String("error", err.Error()))
		}
	}()

	form := UploadForm{Name: r.FormValue("name")}
	if err := shared.ValidateRequest(&form); err != nil {
		HandleAPIError(w, r, errors.Join(domain.ErrValidation, err), "")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		HandleAPIError(w, r, domain.NewValidationError("file", "is required", domain.ErrValidation), "")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to close uploaded file", slog.String("error", err.Error()))
		}
	}()

	result, err := h.datasets.Upload(r.Context(), service.UploadRequest{
		Name:     form.Name,
		Filename: filepath.Base(header.Filename),
		MimeType: partMimeType(header),
		Body:     file,
		Size:     header.Size,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to upload dataset")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, result)
}

// CreateJob handles POST /api/datasets/{id}/jobs and responds 202 with the new job.
func (h *DatasetHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	job, err := h.datasets.CreateJob(r.Context(), datasetID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, job)
}

// Delete handles DELETE /api/datasets/{id}.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.datasets.Delete(r.Context(), datasetID); err != nil {
		HandleAPIError(w, r, err, "Failed to delete dataset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// partMimeType returns the declared media type of an uploaded part, falling
// back to the file extension.
func partMimeType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
		return byExt
	}
	return fallbackMimeType
}
