package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/dataprep-api/internal/domain"
	"github.com/phrazzld/dataprep-api/internal/storage"
	goredis "github.com/redis/go-redis/v9"
)

// ErrMiss is returned by a tier that does not hold the key.
var ErrMiss = errors.New("cache miss")

// FastTier is the short-lived key/value tier.
type FastTier interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// RedisTier is a FastTier on Redis.
type RedisTier struct {
	client goredis.Cmdable
}

var _ FastTier = (*RedisTier)(nil)

// NewRedisTier wraps a go-redis client.
func NewRedisTier(client goredis.Cmdable) *RedisTier {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisTier{client: client}
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return b, nil
}

func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

// FileTier keeps results as CSV files named {key}.csv in a file store.
// Cells hold JSON literals so values keep their types.
type FileTier struct {
	files storage.FileStore
}

// NewFileTier stores files in files.
func NewFileTier(files storage.FileStore) *FileTier {
	if files == nil {
		panic("file store cannot be nil")
	}
	return &FileTier{files: files}
}

func fileKey(key string) string {
	return key + ".csv"
}

// Read returns ErrMiss when no file exists for key.
func (t *FileTier) Read(ctx context.Context, key string) (domain.Result, error) {
	rc, err := t.files.Open(ctx, fileKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	res, err := decodeFile(rc)
	if err != nil {
		return nil, fmt.Errorf("file tier %s: %w", key, err)
	}
	return res, nil
}

// Exists reports whether a file is stored for key.
func (t *FileTier) Exists(ctx context.Context, key string) (bool, error) {
	rc, err := t.files.Open(ctx, fileKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = rc.Close()
	return true, nil
}

// Write stores r as CSV under key, replacing any existing file.
func (t *FileTier) Write(ctx context.Context, key string, r domain.Result) error {
	var buf bytes.Buffer
	if err := encodeFile(&buf, r); err != nil {
		return fmt.Errorf("file tier %s: %w", key, err)
	}
	return t.files.Put(ctx, fileKey(key), &buf, int64(buf.Len()), "text/csv")
}

// Remove deletes the file for key. A missing file is not an error.
func (t *FileTier) Remove(ctx context.Context, key string) error {
	return t.files.Delete(ctx, fileKey(key))
}
