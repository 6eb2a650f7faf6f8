// Package cache is the two-tier result cache. Results are written to a fast
// key/value tier with a TTL and copied lazily to a permanent CSV file tier
// the first time they are read from the fast tier.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/metrics"
	"github.com/phrazzld/dataprep-api/internal/platform/logger"
)

// DefaultTTL is how long a result stays in the fast tier.
const DefaultTTL = 24 * time.Hour

// ResultCache stores job results across both tiers.
type ResultCache struct {
	fast    FastTier
	files   *FileTier
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customizes a ResultCache.
type Option func(*ResultCache)

// WithTTL overrides the fast-tier expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMetrics records lookups on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

// New builds a ResultCache.
func New(fast FastTier, files *FileTier, logger *slog.Logger, opts ...Option) *ResultCache {
	if fast == nil {
		panic("fast tier cannot be nil")
	}
	if files == nil {
		panic("file tier cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &ResultCache{
		fast:   fast,
		files:  files,
		ttl:    DefaultTTL,
		logger: logger.With(slog.String("component", "result_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put writes result to the fast tier and returns its result key.
func (c *ResultCache) Put(ctx context.Context, jobID uuid.UUID, result domain.Result) (string, error) {
	if result == nil {
		return "", errors.New("cannot cache a nil result")
	}

	key := domain.ResultKeyFor(jobID)
	payload, err := domain.EncodeResult(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result for %s: %w", key, err)
	}
	if err := c.fast.Set(ctx, key, payload, c.ttl); err != nil {
		return "", fmt.Errorf("failed to cache result: %w", err)
	}

	logger.FromContextOrDefault(ctx, c.logger).Debug("result cached",
		slog.String("result_key", key),
		slog.String("result_kind", string(result.Kind())),
		slog.Duration("ttl", c.ttl))
	return key, nil
}

// Get returns the result stored under key, or nil with no error when
// neither tier holds it. A fast-tier failure falls through to the file tier.
func (c *ResultCache) Get(ctx context.Context, key string) (domain.Result, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("result_key", key))

	res, err := c.getFast(ctx, key)
	switch {
	case err == nil:
		c.metrics.ObserveCacheLookup(metrics.TierFast, metrics.OutcomeHit)
		c.backfill(ctx, log, key, res)
		return res, nil
	case errors.Is(err, ErrMiss):
		c.metrics.ObserveCacheLookup(metrics.TierFast, metrics.OutcomeMiss)
	default:
		c.metrics.ObserveCacheLookup(metrics.TierFast, metrics.OutcomeError)
		log.Warn("fast tier lookup failed, trying file tier", slog.String("error", err.Error()))
	}

	res, err = c.files.Read(ctx, key)
	switch {
	case err == nil:
		c.metrics.ObserveCacheLookup(metrics.TierFile, metrics.OutcomeHit)
		return res, nil
	case errors.Is(err, ErrMiss):
		c.metrics.ObserveCacheLookup(metrics.TierFile, metrics.OutcomeMiss)
		return nil, nil
	default:
		c.metrics.ObserveCacheLookup(metrics.TierFile, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to read result %s: %w", key, err)
	}
}

// Evict removes key from both tiers.
func (c *ResultCache) Evict(ctx context.Context, key string) error {
	return errors.Join(c.fast.Delete(ctx, key), c.files.Remove(ctx, key))
}

func (c *ResultCache) getFast(ctx context.Context, key string) (domain.Result, error) {
	payload, err := c.fast.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	res, err := domain.DecodeResult(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt fast tier entry: %w", err)
	}
	return res, nil
}

// backfill copies a fast-tier hit to the file tier unless a file already
// exists. Failures are logged and never fail the read.
func (c *ResultCache) backfill(ctx context.Context, log *slog.Logger, key string, res domain.Result) {
	exists, err := c.files.Exists(ctx, key)
	if err != nil {
		log.Warn("file tier check failed", slog.String("error", err.Error()))
		return
	}
	if exists {
		return
	}
	if err := c.files.Write(ctx, key, res); err != nil {
		log.Warn("file tier backfill failed", slog.String("error", err.Error()))
		return
	}
	log.Debug("file tier backfilled")
}
