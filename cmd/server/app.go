package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/dataprep-api/internal/bootstrap"
	"github.com/phrazzld/dataprep-api/internal/config"
	"github.com/phrazzld/dataprep-api/internal/service"
	"github.com/phrazzld/dataprep-api/internal/service/auth"
	"github.com/phrazzld/dataprep-api/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// application holds the server's dependencies and owns their shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	deps   *bootstrap.Deps

	jobService     service.JobService
	datasetService service.DatasetService

	// verifier is nil when bearer-token verification is disabled.
	verifier auth.TokenVerifier
	gatherer prometheus.Gatherer
	ping     func(ctx context.Context) error

	// runner is set only when jobs are queued in memory.
	runner *worker.Runner
}

// newApplication builds the services and, for the in-memory queue, the
// embedded job runner.
func newApplication(cfg *config.Config, logger *slog.Logger, deps *bootstrap.Deps) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		deps:     deps,
		gatherer: deps.Registry,
		ping:     deps.DB.PingContext,
	}

	var err error
	app.jobService, err = deps.NewJobService()
	if err != nil {
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}
	app.datasetService, err = deps.NewDatasetService()
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset service: %w", err)
	}

	if cfg.Auth.JWTSecret != "" {
		app.verifier, err = auth.NewJWTVerifier(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		logger.Info("bearer token verification enabled")
	}

	if deps.InProcessQueue() {
		app.runner, err = deps.NewRunner()
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded job runner: %w", err)
		}
		logger.Info("in-memory queue selected, running job workers in-process",
			"worker_count", cfg.Worker.Count)
	}

	return app, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (app *application) Run(ctx context.Context) error {
	if app.runner != nil {
		if err := app.runner.Start(ctx); err != nil {
			app.cleanup()
			return fmt.Errorf("failed to start job runner: %w", err)
		}
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the embedded runner, letting in-flight jobs finish, and
// releases every connection.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.deps != nil {
		if err := app.deps.Close(); err != nil {
			app.logger.Error("error releasing dependencies", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
