package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipsync/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "clipsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 12; i++ {
		_, err := store.Create(ctx, core.Entry{Type: core.EntryTypeText, Data: "item", Timestamp: i})
		require.NoError(t, err)
	}

	docs, err := store.Query(ctx, core.CollectionLimit)
	require.NoError(t, err)
	require.Len(t, docs, core.CollectionLimit)
	assert.Equal(t, int64(12), docs[0].Entry.Timestamp)
	assert.Equal(t, int64(3), docs[9].Entry.Timestamp)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestOverwrite_ReplacesAndUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Create(ctx, core.Entry{Type: core.EntryTypeText, Data: "old", Timestamp: 1})
	require.NoError(t, err)

	image := core.Entry{Type: core.EntryTypeImage, Data: "http://x/images/a.png", Timestamp: 2}
	require.NoError(t, store.Overwrite(ctx, ref, image))
	require.NoError(t, store.Overwrite(ctx, "recreated", core.Entry{Type: core.EntryTypeText, Data: "new", Timestamp: 3}))

	docs, err := store.Query(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "recreated", docs[0].Ref)
	assert.Equal(t, core.Doc{Ref: ref, Entry: image}, docs[1])
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Create(ctx, core.Entry{Type: core.EntryTypeText, Data: "x", Timestamp: 1})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))

	docs, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var deliveries [][]core.Doc
	cancel, err := store.Watch(ctx, 2, func(docs []core.Doc) {
		mu.Lock()
		deliveries = append(deliveries, docs)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	for i := int64(1); i <= 3; i++ {
		_, err := store.Create(ctx, core.Entry{Type: core.EntryTypeText, Data: "item", Timestamp: i})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(deliveries) == 0 {
			return false
		}
		last := deliveries[len(deliveries)-1]
		return len(last) == 2 && last[0].Entry.Timestamp == 3 && last[1].Entry.Timestamp == 2
	}, 2*time.Second, 10*time.Millisecond)
}
