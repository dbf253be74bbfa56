package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"clipsync/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCollection_DefaultsToMemory(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")

	collection := GetCollection()
	defer collection.Close()

	ref, err := collection.Create(context.Background(), core.Entry{Type: core.EntryTypeText, Data: "x", Timestamp: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestGetCollection_SQLite(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("DATA_SOURCE_NAME", filepath.Join(t.TempDir(), "test.db"))

	collection := GetCollection()
	defer collection.Close()

	docs, err := collection.Query(context.Background(), core.CollectionLimit)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGetCollection_Filesystem(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_TYPE", "filesystem")
	t.Setenv("LOCAL_STORAGE_PATH", dir)

	collection := GetCollection()
	defer collection.Close()

	_, err := collection.Create(context.Background(), core.Entry{Type: core.EntryTypeText, Data: "x", Timestamp: 1})
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, "entries", "*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestGetBlobStore_LocalURL(t *testing.T) {
	for _, storageType := range []string{"", "filesystem"} {
		t.Run("type="+storageType, func(t *testing.T) {
			t.Setenv("BLOB_STORAGE_TYPE", storageType)
			t.Setenv("LOCAL_STORAGE_PATH", t.TempDir())

			store := GetBlobStore("http://localhost:3002/blobs")
			ctx := context.Background()

			result, err := store.Upload(ctx, "images", []byte("x"), "image/png")
			require.NoError(t, err)
			url, err := store.ResolveURL(ctx, result)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "http://localhost:3002/blobs/images/"))
		})
	}
}
