package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magharvest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidBaseDir", func(t *testing.T) {
		store, err := local.New(t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New("  ")
		assert.Error(t, err)
	})

	t.Run("CreatesBaseDir", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "archive", "runs")
		_, err := local.New(base)
		require.NoError(t, err)
		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plainfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(file)
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	base := t.TempDir()
	store, err := local.New(base)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "runs/run1.csv", "text/csv", bytes.NewReader([]byte("fid,tid\n")))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(base, "runs/run1.csv"), uri)

		data, err := os.ReadFile(filepath.Join(base, "runs", "run1.csv"))
		require.NoError(t, err)
		assert.Equal(t, "fid,tid\n", string(data))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/csv", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
	})

	t.Run("TraversalRejected", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.csv", "text/csv", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "path traversal")
	})
}
