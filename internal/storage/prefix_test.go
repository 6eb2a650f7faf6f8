package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPrefix(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	local, err := NewLocalStore(root)
	require.NoError(t, err)

	assert.Same(t, local, WithPrefix(local, "/"))

	scoped := WithPrefix(local, "/processed/")
	ctx := context.Background()

	require.NoError(t, scoped.Put(ctx, "result-1.csv", strings.NewReader("a\n1\n"), 4, "text/csv"))
	_, err = os.Stat(filepath.Join(root, "processed", "result-1.csv"))
	require.NoError(t, err)

	rc, err := scoped.Open(ctx, "result-1.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a\n1\n", string(body))

	_, err = scoped.Open(ctx, "../escape.csv")
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, scoped.Delete(ctx, "result-1.csv"))
	_, err = local.Open(ctx, "processed/result-1.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}
