package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/service"
)

type mockJobService struct {
	GetStatusFn func(ctx context.Context, jobID uuid.UUID) (*service.JobStatusView, error)
	GetResultFn func(ctx context.Context, jobID uuid.UUID) (*service.JobResultView, error)
	ExportFn    func(ctx context.Context, jobID uuid.UUID, format string) (*service.ExportDocument, error)
}

func (m *mockJobService) GetStatus(ctx context.Context, jobID uuid.UUID) (*service.JobStatusView, error) {
	return m.GetStatusFn(ctx, jobID)
}

func (m *mockJobService) GetResult(ctx context.Context, jobID uuid.UUID) (*service.JobResultView, error) {
	return m.GetResultFn(ctx, jobID)
}

func (m *mockJobService) Export(ctx context.Context, jobID uuid.UUID, format string) (*service.ExportDocument, error) {
	return m.ExportFn(ctx, jobID, format)
}

type mockDatasetService struct {
	UploadFn    func(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
	CreateJobFn func(ctx context.Context, datasetID uuid.UUID) (*domain.ProcessingJob, error)
	DeleteFn    func(ctx context.Context, datasetID uuid.UUID) error
}

func (m *mockDatasetService) Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error) {
	return m.UploadFn(ctx, req)
}

func (m *mockDatasetService) CreateJob(ctx context.Context, datasetID uuid.UUID) (*domain.ProcessingJob, error) {
	return m.CreateJobFn(ctx, datasetID)
}

func (m *mockDatasetService) Delete(ctx context.Context, datasetID uuid.UUID) error {
	return m.DeleteFn(ctx, datasetID)
}

// newTestRouter mounts the handlers on the same paths the server uses.
func newTestRouter(jobs *JobHandler, datasets *DatasetHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		if jobs != nil {
			r.Get("/jobs/{id}/status", jobs.GetStatus)
			r.Get("/jobs/{id}/result", jobs.GetResult)
			r.Get("/jobs/{id}/export", jobs.Export)
		}
		if datasets != nil {
			r.Post("/datasets", datasets.Upload)
			r.Post("/datasets/{id}/jobs", datasets.CreateJob)
			r.Delete("/datasets/{id}", datasets.Delete)
		}
	})
	return r
}
