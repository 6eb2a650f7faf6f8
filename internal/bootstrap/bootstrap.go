// Package bootstrap builds the pipeline's dependencies from configuration.
// The API server and the worker share it, so both processes talk to the same
// stores, queue, file storage and result cache in the same way.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/phrazzld/dataprep-api/internal/cache"
	"github.com/phrazzld/dataprep-api/internal/config"
	"github.com/phrazzld/dataprep-api/internal/engine"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/platform/postgres"
	"github.com/phrazzld/dataprep-api/internal/platform/rabbitmq"
	platformredis "github.com/phrazzld/dataprep-api/internal/platform/redis"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/service"
	"github.com/phrazzld/dataprep-api/internal/storage"
	"github.com/phrazzld/dataprep-api/internal/store"
	"github.com/phrazzld/dataprep-api/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
)

// Queue backends
const (
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendMemory   = "memory"
)

// Storage backends
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Deps holds every long-lived dependency of a process.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *sql.DB
	Redis    *goredis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Jobs     store.JobStore
	Datasets store.DatasetStore

	Uploads   storage.FileStore
	Processed storage.FileStore

	Results   *cache.ResultCache
	Engine    *engine.Client
	Publisher queue.Publisher

	memory   *queue.MemoryQueue
	amqpConn *amqp.Connection
	closers  []func() error
}

// Open connects to every backing service named in cfg. On error, whatever
// was already opened is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Deps, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deps{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if closeErr := d.Close(); closeErr != nil {
				logger.Error("failed to release partially opened dependencies", "error", closeErr)
			}
		}
	}()

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(d.Registry)

	d.DB, err = postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.DB.Close)
	logger.Info("database connection established")

	d.Jobs = postgres.NewPostgresJobStore(d.DB, logger)
	d.Datasets = postgres.NewPostgresDatasetStore(d.DB, logger)

	d.Redis, err = platformredis.NewClient(ctx, platformredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.Redis.Close)
	logger.Info("redis connection established", "addr", cfg.Redis.Addr)

	d.Uploads, d.Processed, err = newFileStores(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	d.Results = cache.New(
		cache.NewRedisTier(d.Redis),
		cache.NewFileTier(d.Processed),
		logger,
		cache.WithTTL(cfg.Redis.ResultTTL),
		cache.WithMetrics(d.Metrics),
	)

	d.Engine, err = engine.NewClient(
		engine.Config{BaseURL: cfg.Engine.BaseURL, Timeout: cfg.Engine.Timeout},
		d.Uploads,
		logger,
		engine.WithMetrics(d.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	if err := d.openQueue(cfg.Queue); err != nil {
		return nil, err
	}
	logger.Info("job queue ready", "backend", cfg.Queue.Backend)

	return d, nil
}

func newFileStores(ctx context.Context, cfg config.StorageConfig) (storage.FileStore, storage.FileStore, error) {
	switch cfg.Backend {
	case StorageBackendLocal:
		up, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		out, err := storage.NewLocalStore(cfg.ProcessedDir)
		if err != nil {
			return nil, nil, err
		}
		return up, out, nil
	case StorageBackendS3:
		bucket, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return bucket, storage.WithPrefix(bucket, cfg.ProcessedDir), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (d *Deps) openQueue(cfg config.QueueConfig) error {
	switch cfg.Backend {
	case QueueBackendMemory:
		d.memory = queue.NewMemoryQueue(cfg.BufferSize, d.Logger)
		d.Publisher = d.memory
		d.closers = append(d.closers, func() error {
			d.memory.Close()
			return nil
		})
		return nil
	case QueueBackendRabbitMQ:
		conn, err := rabbitmq.Dial(cfg.URL)
		if err != nil {
			return err
		}
		d.amqpConn = conn
		d.closers = append(d.closers, conn.Close)

		pub, err := rabbitmq.NewPublisher(conn, rabbitConfig(cfg), d.Logger)
		if err != nil {
			return err
		}
		d.Publisher = pub
		d.closers = append(d.closers, pub.Close)
		return nil
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func rabbitConfig(cfg config.QueueConfig) rabbitmq.Config {
	return rabbitmq.Config{
		Exchange:   cfg.Exchange,
		RoutingKey: cfg.RoutingKey,
		QueueName:  cfg.QueueName,
		Prefetch:   cfg.Prefetch,
	}
}

// InProcessQueue reports whether jobs are queued in memory, in which case
// the worker must run inside the API process.
func (d *Deps) InProcessQueue() bool {
	return d.memory != nil
}

// Consumer returns the consuming side of the job queue. With RabbitMQ it
// opens a dedicated channel on first use.
func (d *Deps) Consumer() (queue.Consumer, error) {
	if d.memory != nil {
		return d.memory, nil
	}
	if d.amqpConn == nil {
		return nil, errors.New("job queue is not open")
	}
	c, err := rabbitmq.NewConsumer(d.amqpConn, rabbitConfig(d.Config.Queue), d.Logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, c.Close)
	return c, nil
}

// NewJobService builds the read side of the API.
func (d *Deps) NewJobService() (service.JobService, error) {
	return service.NewJobService(d.Jobs, d.Datasets, d.Results, d.Logger)
}

// NewDatasetService builds the upload side of the API.
func (d *Deps) NewDatasetService() (service.DatasetService, error) {
	return service.NewDatasetService(
		d.DB, d.Datasets, d.Jobs, d.Uploads, d.Publisher, d.Results, d.Metrics, d.Logger)
}

// NewRunner builds a job runner consuming from the queue.
func (d *Deps) NewRunner() (*worker.Runner, error) {
	consumer, err := d.Consumer()
	if err != nil {
		return nil, err
	}

	processor := worker.NewProcessor(d.Jobs, d.Datasets, d.Engine, d.Results, d.Logger)
	return worker.NewRunner(processor, consumer, d.Publisher, d.Jobs, RunnerConfig(d.Config.Worker), d.Logger,
		worker.WithRunnerMetrics(d.Metrics)), nil
}

// RunnerConfig maps worker configuration onto the runner's settings.
func RunnerConfig(cfg config.WorkerConfig) worker.RunnerConfig {
	rc := worker.DefaultRunnerConfig()
	if cfg.Count > 0 {
		rc.WorkerCount = cfg.Count
	}
	if cfg.StuckJobAge > 0 {
		rc.StuckJobAge = cfg.StuckJobAge
	}
	if cfg.PendingRequeueAge > 0 {
		rc.PendingRequeueAge = cfg.PendingRequeueAge
	}
	if cfg.SweepInterval > 0 {
		rc.SweepInterval = cfg.SweepInterval
	}
	return rc
}

// Close releases everything Open acquired, most recent first.
func (d *Deps) Close() error {
	var errs []error
	for _, closeFn := range slices.Backward(d.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
