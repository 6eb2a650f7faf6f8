package storage

import (
	"context"
	"io"
	"strings"
)

// PrefixStore scopes every key of an underlying FileStore under a fixed
// prefix, so uploads and processed results can share one bucket.
type PrefixStore struct {
	inner  FileStore
	prefix string
}

// Ensure PrefixStore implements FileStore
var _ FileStore = (*PrefixStore)(nil)

// WithPrefix returns a FileStore that stores key as prefix/key in inner.
// An empty prefix returns inner unchanged.
func WithPrefix(inner FileStore, prefix string) FileStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return inner
	}
	return &PrefixStore{inner: inner, prefix: prefix}
}

func (s *PrefixStore) key(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return s.prefix + "/" + key, nil
}

// Open implements FileSource.
func (s *PrefixStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	return s.inner.Open(ctx, k)
}

// Put implements FileStore.
func (s *PrefixStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, k, r, size, contentType)
}

// Delete implements FileStore.
func (s *PrefixStore) Delete(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return s.inner.Delete(ctx, k)
}
