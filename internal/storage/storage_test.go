package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	t.Parallel()

	valid := []string{"datasets/abc/data.csv", "file.csv", "a/b/c"}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}

	invalid := []string{"", "/etc/passwd", "../up", "a/../../b", "a//b", "a/./b", ".", "..", `a\b`}
	for _, k := range invalid {
		assert.ErrorIs(t, ValidateKey(k), ErrInvalidKey, k)
	}
}

func TestLocalStore_RoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	key := "datasets/123/data.csv"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("a,b\n1,2\n"), -1, "text/csv"))

	_, err = os.Stat(filepath.Join(root, "datasets", "123", "data.csv"))
	require.NoError(t, err)

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n1,2\n", string(body))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting twice is fine")

	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../outside.csv", strings.NewReader("x"), 1, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Open(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalStore_PutCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Put(ctx, "x/data.csv", strings.NewReader("a,b"), 3, "")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Open(context.Background(), "x/data.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMapS3Error(t *testing.T) {
	t.Parallel()

	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	assert.ErrorIs(t, mapS3Error("k", "get object", notFound), ErrNotFound)

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	err := mapS3Error("k", "get object", denied)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get object")
}
