package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/dataprep-api/internal/api/shared"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/service"
)

// JobHandler serves read-only job queries.
type JobHandler struct {
	jobs   service.JobService
	logger *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs service.JobService, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "job_handler")),
	}
}

// GetStatus handles GET /api/jobs/{id}/status.
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	view, err := h.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// GetResult handles GET /api/jobs/{id}/result.
func (h *JobHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	jobID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	view, err := h.jobs.GetResult(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job result")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// Export handles GET /api/jobs/{id}/export?format=json|csv|txt.
func (h *JobHandler) Export(w http.ResponseWriter, r *http.Request) {
	jobID, ok := handlePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	doc, err := h.jobs.Export(r.Context(), jobID, format)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to export job result")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("exporting job result",
		slog.String("job_id", jobID.String()),
		slog.String("format", format),
		slog.Int("bytes", len(doc.Body)))

	shared.RespondWithAttachment(w, r, doc.Filename, doc.ContentType, doc.Body)
}
