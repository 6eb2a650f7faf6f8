package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/store"
)

// Sweep actions, used as metric labels.
const (
	SweepFailedStuck = "failed_stuck"
	SweepRequeued    = "requeued"
)

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	// WorkerCount determines how many deliveries are processed concurrently.
	WorkerCount int

	// StuckJobAge is how long a job may stay RUNNING before the sweep marks
	// it FAILED. Zero disables that part of the sweep.
	StuckJobAge time.Duration

	// PendingRequeueAge is how long a job may stay PENDING before the sweep
	// publishes its message again. Zero disables that part of the sweep.
	PendingRequeueAge time.Duration

	// SweepInterval is how often the sweep runs. Zero disables it.
	SweepInterval time.Duration

	// SweepBatchSize caps the jobs handled per status per sweep.
	SweepBatchSize int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:       2,
		StuckJobAge:       30 * time.Minute,
		PendingRequeueAge: 15 * time.Minute,
		SweepInterval:     5 * time.Minute,
		SweepBatchSize:    100,
	}
}

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) (Outcome, error)
}

// Runner consumes deliveries with a fixed pool of goroutines.
type Runner struct {
	handler    Handler
	consumer   queue.Consumer
	publisher  queue.Publisher
	jobs       store.JobStore
	config     RunnerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	errHandler func(msg queue.Message, err error)
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerMetrics records job outcomes and sweeps on m.
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner. publisher is used by the sweep to re-publish
// stale PENDING jobs and may be nil to disable that.
func NewRunner(
	handler Handler,
	consumer queue.Consumer,
	publisher queue.Publisher,
	jobs store.JobStore,
	config RunnerConfig,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "job_runner"))

	r := &Runner{
		handler:   handler,
		consumer:  consumer,
		publisher: publisher,
		jobs:      jobs,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		errHandler: func(msg queue.Message, err error) {
			// Default error handler just logs the error
			logger.Error("job processing failed",
				"job_id", msg.ProcessingJobID,
				"dataset_id", msg.DatasetID,
				"error", err)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetErrorHandler allows setting a custom error handler function
func (r *Runner) SetErrorHandler(handler func(msg queue.Message, err error)) {
	r.errHandler = handler
}

// Start runs one recovery sweep, then starts the workers and the periodic
// sweep. It returns once they are running.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := r.Sweep(ctx); err != nil {
		r.logger.Error("initial sweep failed", "error", err)
	}

	deliveries, err := r.consumer.Consume(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	r.cancel = cancel

	// In-flight jobs finish even after Stop; only new deliveries stop.
	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx, jobCtx, i, deliveries)
	}

	if r.config.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(ctx)
	}

	r.logger.Info("job runner started", "workers", r.config.WorkerCount)
	return nil
}

// Stop stops taking deliveries and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("job runner stopped")
}

func (r *Runner) worker(ctx, jobCtx context.Context, id int, deliveries <-chan queue.Delivery) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case d, ok := <-deliveries:
			if !ok {
				r.logger.Debug("delivery channel closed, stopping worker", "worker_id", id)
				return
			}
			r.process(jobCtx, d, id)
		}
	}
}

// process handles one delivery: ack when handled or skipped, reject without
// requeue when it failed.
func (r *Runner) process(ctx context.Context, d queue.Delivery, workerID int) {
	done := r.metrics.JobStarted()
	defer done()

	start := time.Now()
	outcome, err := r.handler.Handle(ctx, d.Message)
	r.metrics.ObserveJob(string(outcome))

	log := r.logger.With(
		"job_id", d.Message.ProcessingJobID,
		"worker_id", workerID,
		"outcome", string(outcome),
		"elapsed", time.Since(start))

	if err != nil {
		r.errHandler(d.Message, err)
		if rejectErr := d.Reject(false); rejectErr != nil {
			log.Error("failed to reject delivery", "error", rejectErr)
		}
		return
	}

	if ackErr := d.Ack(); ackErr != nil {
		log.Error("failed to ack delivery", "error", ackErr)
		return
	}
	log.Debug("delivery handled")
}

func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep marks jobs stuck in RUNNING as FAILED and re-publishes jobs left
// PENDING for too long. A requeued job's age restarts, so it is published
// again only after another PendingRequeueAge. Both actions are safe to
// repeat.
func (r *Runner) Sweep(ctx context.Context) error {
	now := r.now()
	var errs []error

	if r.config.StuckJobAge > 0 {
		n, err := r.failStuck(ctx, now)
		r.metrics.ObserveSweep(SweepFailedStuck, n)
		errs = append(errs, err)
	}
	if r.config.PendingRequeueAge > 0 && r.publisher != nil {
		n, err := r.requeuePending(ctx, now)
		r.metrics.ObserveSweep(SweepRequeued, n)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (r *Runner) failStuck(ctx context.Context, now time.Time) (int, error) {
	stuck, err := r.jobs.ListByStatus(ctx, domain.JobStatusRunning,
		now.Add(-r.config.StuckJobAge), r.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	r.logger.Info("found stuck jobs", "count", len(stuck))
	msg := fmt.Sprintf("worker lost: job was running for more than %s", r.config.StuckJobAge)

	var n int
	for _, job := range stuck {
		if err := r.jobs.MarkFailed(ctx, job.ID, msg, now); err != nil {
			if errors.Is(err, store.ErrStatusConflict) || store.IsNotFoundError(err) {
				continue
			}
			r.logger.Error("failed to fail stuck job", "job_id", job.ID, "error", err)
			continue
		}
		n++
		r.logger.Warn("marked stuck job failed", "job_id", job.ID)
	}
	return n, nil
}

func (r *Runner) requeuePending(ctx context.Context, now time.Time) (int, error) {
	pending, err := r.jobs.ListByStatus(ctx, domain.JobStatusPending,
		now.Add(-r.config.PendingRequeueAge), r.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	var n int
	for _, job := range pending {
		msg := queue.Message{ProcessingJobID: job.ID, DatasetID: job.DatasetID}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			return n, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		n++
		r.logger.Info("requeued pending job", "job_id", job.ID)

		// Restart the job's age so the next sweep does not publish it again.
		if err := r.jobs.TouchPending(ctx, job.ID, now); err != nil &&
			!errors.Is(err, store.ErrStatusConflict) && !store.IsNotFoundError(err) {
			r.logger.Error("failed to stamp requeued job", "job_id", job.ID, "error", err)
		}
	}
	return n, nil
}
