// Package engine is the HTTP client for the external preprocessing engine.
// It reads a dataset file, sends its records to the engine and validates the
// response envelope before anything is treated as a success.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
	"github.com/phrazzld/dataprep-api/internal/storage"
)

// DefaultTimeout bounds one engine call. Preprocessing is slow, so it is
// far longer than an API timeout.
const DefaultTimeout = 5 * time.Minute

const maxErrorBody = 512

// Config holds the engine endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Request describes one job's input.
type Request struct {
	JobID    uuid.UUID
	FileKey  string
	Filename string
	MimeType string
}

// Output is a validated engine response.
type Output struct {
	Result   domain.Result
	Status   string
	Rows     int
	Metadata json.RawMessage
}

type processRequest struct {
	JobID    string       `json:"jobId"`
	Filename string       `json:"filename"`
	Data     []domain.Row `json:"data"`
}

type processResponse struct {
	JobID    string          `json:"jobId"`
	Status   string          `json:"status"`
	Rows     int             `json:"rows"`
	Storage  *storageReport  `json:"storage,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type storageReport struct {
	Redis *string `json:"redis,omitempty"`
}

// Client calls the engine's /process endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	files    storage.FileSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records call durations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient validates its dependencies and builds a Client.
func NewClient(cfg Config, files storage.FileSource, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("engine base URL cannot be empty")
	}
	if files == nil {
		return nil, errors.New("file source cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/process",
		http:     &http.Client{Timeout: timeout},
		files:    files,
		logger:   logger.With(slog.String("component", "engine_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Process sends one dataset to the engine. Non-CSV input is rejected before
// the file is opened. Every returned error wraps ErrEngine.
func (c *Client) Process(ctx context.Context, req Request) (*Output, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(
		slog.String("job_id", req.JobID.String()))

	if !IsSupportedMimeType(req.MimeType) {
		log.Warn("rejecting dataset with unsupported media type",
			slog.String("mime_type", req.MimeType))
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.MimeType)
	}

	rows, err := c.readRecords(ctx, req.FileKey)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(processRequest{
		JobID:    req.JobID.String(),
		Filename: req.Filename,
		Data:     rows,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInvalidDataset, err)
	}

	start := time.Now()
	out, err := c.send(ctx, req.JobID, body)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	c.metrics.ObserveEngineCall(outcome, time.Since(start))

	if err != nil {
		log.Error("engine call failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	log.Info("engine call succeeded",
		slog.String("engine_status", out.Status),
		slog.Int("rows", out.Rows),
		slog.String("result_kind", string(out.Result.Kind())),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *Client) readRecords(ctx context.Context, key string) ([]domain.Row, error) {
	rc, err := c.files.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidDataset, key, err)
	}
	defer func() { _ = rc.Close() }()

	return DecodeCSV(rc)
}

func (c *Client) send(ctx context.Context, jobID uuid.UUID, body []byte) (*Output, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEngineUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading response: %v", ErrEngineTimeout, err)
		}
		return nil, fmt.Errorf("%w: reading response: %v", ErrInvalidResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d: %s", ErrBadStatus, resp.StatusCode, truncate(payload))
	}

	var pr processResponse
	if err := json.Unmarshal(payload, &pr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if pr.JobID != jobID.String() {
		return nil, fmt.Errorf("%w: response jobId %q does not match request jobId %q",
			ErrContractViolation, pr.JobID, jobID)
	}
	if pr.Storage != nil && pr.Storage.Redis != nil && *pr.Storage.Redis != "success" {
		return nil, fmt.Errorf("%w: storage.redis=%q", ErrStorageWriteFailed, *pr.Storage.Redis)
	}

	result, err := buildResult(pr)
	if err != nil {
		return nil, err
	}

	return &Output{
		Result:   result,
		Status:   pr.Status,
		Rows:     pr.Rows,
		Metadata: pr.Metadata,
	}, nil
}

// buildResult prefers processed rows, then metadata, then the envelope summary.
func buildResult(pr processResponse) (domain.Result, error) {
	if isPresent(pr.Data) {
		var rows []domain.Row
		if err := json.Unmarshal(pr.Data, &rows); err != nil {
			return nil, fmt.Errorf("%w: data must be an array of objects: %v", ErrInvalidResponse, err)
		}
		return domain.TabularResult{Rows: rows}, nil
	}

	if isPresent(pr.Metadata) {
		return domain.OpaqueResult{Value: pr.Metadata}, nil
	}

	summary, err := json.Marshal(struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
		Rows   int    `json:"rows"`
	}{pr.JobID, pr.Status, pr.Rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return domain.OpaqueResult{Value: summary}, nil
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
