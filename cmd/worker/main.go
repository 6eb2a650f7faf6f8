// Package main runs the dataprep job workers against the RabbitMQ queue,
// along with the sweeper and a metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/dataprep-api/internal/bootstrap"
	"github.com/phrazzld/dataprep-api/internal/config"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// errInProcessQueue is returned when the configured queue only exists
// inside the API server process.
var errInProcessQueue = errors.New("the in-memory queue runs workers inside the API server; use the rabbitmq backend")

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Queue.Backend == bootstrap.QueueBackendMemory {
		return errInProcessQueue
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log = log.With("component", "worker")
	log.Info("worker configuration loaded",
		"worker_count", cfg.Worker.Count,
		"metrics_port", cfg.Worker.MetricsPort,
		"storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error("error releasing dependencies", "error", err)
		}
	}()

	runner, err := deps.NewRunner()
	if err != nil {
		return fmt.Errorf("failed to create job runner: %w", err)
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	log.Info("job runner started")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Worker.MetricsPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           newMetricsRouter(deps, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("starting metrics server", "port", cfg.Worker.MetricsPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping job runner")
		runner.Stop()
		return nil
	})

	err = g.Wait()
	log.Info("worker shutdown completed")
	return err
}

// newMetricsRouter serves /metrics from the worker's registry and a
// /health check against the database.
func newMetricsRouter(deps *bootstrap.Deps, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.PingContext(ctx); err != nil {
			log.Warn("health check failed", "error", err)
			http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	return r
}
