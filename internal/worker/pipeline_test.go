package worker_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/dataprep-api/internal/cache"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/engine"
	"github.com/phrazzld/dataprep-api/internal/mocks"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/queue"
	"github.com/phrazzld/dataprep-api/internal/service"
	"github.com/phrazzld/dataprep-api/internal/storage"
	"github.com/phrazzld/dataprep-api/internal/worker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleCSV = "id,name,city\n1,Ann,Oslo\n2,Bob,\"Lyon, FR\"\n3,Cy,Quito\n"

// pipeline wires the real engine client, result cache and job service
// around in-memory stores.
type pipeline struct {
	jobs         *mocks.MockJobStore
	datasets     *mocks.MockDatasetStore
	uploads      *storage.LocalStore
	processedDir string
	processor    *worker.Processor
	jobService   service.JobService
	engineCalls  *atomic.Int32
}

func newPipeline(t *testing.T, engineHandler http.HandlerFunc, engineTimeout time.Duration) *pipeline {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		engineHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	log, _ := logger.NewTestLogger()

	uploads, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	processedDir := t.TempDir()
	processed, err := storage.NewLocalStore(processedDir)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	results := cache.New(cache.NewRedisTier(rdb), cache.NewFileTier(processed), log)

	client, err := engine.NewClient(engine.Config{BaseURL: srv.URL, Timeout: engineTimeout}, uploads, log)
	require.NoError(t, err)

	p := &pipeline{
		jobs:         mocks.NewMockJobStore(),
		datasets:     mocks.NewMockDatasetStore(),
		uploads:      uploads,
		processedDir: processedDir,
		engineCalls:  &calls,
	}
	p.processor = worker.NewProcessor(p.jobs, p.datasets, client, results, log)
	p.jobService, err = service.NewJobService(p.jobs, p.datasets, results, log)
	require.NoError(t, err)
	return p
}

// enqueue stores a dataset file and a PENDING job, returning the message a
// worker would receive.
func (p *pipeline) enqueue(t *testing.T, filename, mimeType, body string) queue.Message {
	t.Helper()
	ctx := context.Background()

	ds, err := domain.NewDataset("", filename, mimeType, int64(len(body)))
	require.NoError(t, err)
	require.NoError(t, p.uploads.Put(ctx, ds.StorageKey, strings.NewReader(body), int64(len(body)), mimeType))
	require.NoError(t, p.datasets.Create(ctx, ds))

	job, err := domain.NewProcessingJob(ds.ID)
	require.NoError(t, err)
	require.NoError(t, p.jobs.Create(ctx, job))

	return queue.Message{ProcessingJobID: job.ID, DatasetID: ds.ID}
}

func (p *pipeline) job(t *testing.T, msg queue.Message) *domain.ProcessingJob {
	t.Helper()
	job, err := p.jobs.GetByID(context.Background(), msg.ProcessingJobID)
	require.NoError(t, err)
	return job
}

func successfulEngine(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID string           `json:"jobId"`
			Data  []map[string]any `json:"data"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobId":   req.JobID,
			"status":  "done",
			"rows":    len(req.Data),
			"storage": map[string]any{"redis": "success"},
			"data":    req.Data,
		})
	}
}

func TestPipeline_SuccessfulJobIsRetrievableInEveryFormat(t *testing.T) {
	p := newPipeline(t, successfulEngine(t), time.Second)
	msg := p.enqueue(t, "people.csv", "text/csv", peopleCSV)
	ctx := context.Background()

	outcome, err := p.processor.Handle(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeSucceeded, outcome)

	job := p.job(t, msg)
	assert.Equal(t, domain.JobStatusSuccess, job.Status)
	require.NotNil(t, job.ResultKey)
	assert.Equal(t, "processed:"+job.ID.String(), *job.ResultKey)
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusSuccess,
	}, p.jobs.History(job.ID))

	res, err := p.jobService.GetResult(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id":"1","name":"Ann","city":"Oslo"},
		{"id":"2","name":"Bob","city":"Lyon, FR"},
		{"id":"3","name":"Cy","city":"Quito"}
	]`, string(res.Result))

	for _, format := range []string{"json", "txt"} {
		doc, err := p.jobService.Export(ctx, job.ID, format)
		require.NoError(t, err, format)
		var rows []map[string]string
		require.NoError(t, json.Unmarshal(doc.Body, &rows), format)
		assert.Len(t, rows, 3, format)
	}

	doc, err := p.jobService.Export(ctx, job.ID, "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(doc.Body))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "name", "city"}, {"1", "Ann", "Oslo"}, {"2", "Bob", "Lyon, FR"}, {"3", "Cy", "Quito"},
	}, records)

	// The first read from the fast tier backfilled the file tier.
	_, err = os.Stat(filepath.Join(p.processedDir, *job.ResultKey+".csv"))
	assert.NoError(t, err)
}

func TestPipeline_EngineTimeoutFailsJob(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	p := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	msg := p.enqueue(t, "people.csv", "text/csv", peopleCSV)
	ctx := context.Background()

	outcome, err := p.processor.Handle(ctx, msg)
	assert.ErrorIs(t, err, engine.ErrEngineTimeout)
	assert.Equal(t, worker.OutcomeFailed, outcome)

	job := p.job(t, msg)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.NotEmpty(t, *job.ErrorMessage)
	assert.Nil(t, job.ResultKey)

	res, err := p.jobService.GetResult(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Result)
}

func TestPipeline_ExportBeforeSuccessIsAConflict(t *testing.T) {
	p := newPipeline(t, successfulEngine(t), time.Second)
	msg := p.enqueue(t, "people.csv", "text/csv", peopleCSV)

	_, err := p.jobService.Export(context.Background(), msg.ProcessingJobID, "csv")
	assert.ErrorIs(t, err, service.ErrResultNotReady)

	entries, err := os.ReadDir(p.processedDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no export file is written")
}

func TestPipeline_UnsupportedFormatNeverReachesEngine(t *testing.T) {
	p := newPipeline(t, successfulEngine(t), time.Second)
	msg := p.enqueue(t, "report.pdf", "application/pdf", "%PDF-1.7")

	outcome, err := p.processor.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, engine.ErrUnsupportedFormat)
	assert.Equal(t, worker.OutcomeFailed, outcome)
	assert.Equal(t, int32(0), p.engineCalls.Load())

	job := p.job(t, msg)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "unsupported format")
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusFailed,
	}, p.jobs.History(job.ID))
}

func TestPipeline_RunnerDrivesQueuedJobs(t *testing.T) {
	p := newPipeline(t, successfulEngine(t), time.Second)
	log, _ := logger.NewTestLogger()
	q := queue.NewMemoryQueue(10, log)

	r := worker.NewRunner(p.processor, q, q, p.jobs, worker.RunnerConfig{WorkerCount: 2}, log)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	var msgs []queue.Message
	for i := 0; i < 4; i++ {
		msg := p.enqueue(t, "people.csv", "text/csv", peopleCSV)
		msgs = append(msgs, msg)
		require.NoError(t, q.Publish(context.Background(), msg))
	}
	// A duplicate delivery is skipped.
	require.NoError(t, q.Publish(context.Background(), msgs[0]))

	for _, msg := range msgs {
		require.Eventually(t, func() bool {
			return p.job(t, msg).Status == domain.JobStatusSuccess
		}, 5*time.Second, 10*time.Millisecond)
	}
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, p.engineCalls.Load(), int32(4))
}
