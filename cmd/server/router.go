package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/dataprep-api/internal/api"
	apiMiddleware "github.com/phrazzld/dataprep-api/internal/api/middleware"
	"github.com/phrazzld/dataprep-api/internal/metrics"
)

// setupRouter registers middleware and routes.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.jobService, app.logger)
	datasetHandler := api.NewDatasetHandler(app.datasetService, app.config.Server.MaxUploadBytes, app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.verifier != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.verifier).Authenticate)
		}

		r.Get("/jobs/{id}/status", jobHandler.GetStatus)
		r.Get("/jobs/{id}/result", jobHandler.GetResult)
		r.Get("/jobs/{id}/export", jobHandler.Export)

		r.Post("/datasets", datasetHandler.Upload)
		r.Post("/datasets/{id}/jobs", datasetHandler.CreateJob)
		r.Delete("/datasets/{id}", datasetHandler.Delete)
	})

	r.Get("/health", app.handleHealth)
	if app.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(app.gatherer))
	}

	return r
}

// handleHealth reports 200 when the database answers a ping.
func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, "OK"
	if app.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.ping(ctx); err != nil {
			app.logger.Warn("health check failed", "error", err)
			status, body = http.StatusServiceUnavailable, "UNAVAILABLE"
		}
	}

	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		app.logger.Error("failed to write health check response", "error", err)
	}
}
