package crawl

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/storage"
)

func newTestWalker(t *testing.T) (*Walker, *storage.CheckpointStore) {
	t.Helper()
	store := storage.NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"), slog.Default())
	return NewWalker(store, nil, slog.Default()), store
}

func TestWalkerFreshStart(t *testing.T) {
	w, _ := newTestWalker(t)

	pos := w.Resume()

	assert.True(t, pos.IsZero())
	assert.Equal(t, StateAtCollection, w.State())
	assert.Equal(t, 0, w.BeginPage(10))
}

func TestWalkerResumeSkipsProcessedItems(t *testing.T) {
	w, store := newTestWalker(t)
	require.NoError(t, store.Save(models.CrawlPosition{CollectionIndex: 2, Page: 3, ItemIndex: 5}))

	pos := w.Resume()

	assert.Equal(t, 2, pos.CollectionIndex)
	assert.Equal(t, 3, pos.Page)
	assert.Equal(t, 5, w.BeginPage(8))

	// The skip is one-shot: the following page starts from the top.
	require.NoError(t, w.EndPage(true))
	assert.Equal(t, 0, w.BeginPage(8))
}

func TestWalkerResumeClampsToPageSize(t *testing.T) {
	w, store := newTestWalker(t)
	require.NoError(t, store.Save(models.CrawlPosition{Page: 1, ItemIndex: 12}))

	w.Resume()

	assert.Equal(t, 4, w.BeginPage(4))
}

func TestWalkerRestartResumesAfterLastCompletedItem(t *testing.T) {
	w, store := newTestWalker(t)
	w.Resume()
	w.BeginPage(10)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.ItemDone())
	}

	// A fresh walker on the same store stands in for a crashed process.
	w2 := NewWalker(store, nil, slog.Default())
	w2.Resume()
	assert.Equal(t, 4, w2.BeginPage(10))
}

func TestWalkerSkipItemCountsLikeDone(t *testing.T) {
	w, store := newTestWalker(t)
	w.Resume()
	w.BeginPage(3)

	require.NoError(t, w.ItemDone())
	require.NoError(t, w.SkipItem())

	assert.Equal(t, 2, store.Load().ItemIndex)
}

func TestWalkerPageAndCollectionTransitions(t *testing.T) {
	w, store := newTestWalker(t)
	w.Resume()
	w.BeginPage(2)
	require.NoError(t, w.ItemDone())
	require.NoError(t, w.ItemDone())

	require.NoError(t, w.EndPage(true))
	assert.Equal(t, models.CrawlPosition{CollectionIndex: 0, Page: 2, ItemIndex: 0}, store.Load())
	assert.Equal(t, StatePageExhausted, w.State())

	assert.Equal(t, 0, w.BeginPage(0))
	assert.Equal(t, StateAtPage, w.State())
	require.NoError(t, w.EndPage(false))
	assert.Equal(t, StatePageExhausted, w.State())

	require.NoError(t, w.EndCollection(true))
	assert.Equal(t, StateAtCollection, w.State())
	assert.Equal(t, models.CrawlPosition{CollectionIndex: 1, Page: 1, ItemIndex: 0}, store.Load())
}

func TestWalkerCompletedWalkClearsCheckpoint(t *testing.T) {
	w, store := newTestWalker(t)
	w.Resume()
	w.BeginPage(1)
	require.NoError(t, w.ItemDone())
	require.NoError(t, w.EndPage(false))

	require.NoError(t, w.EndCollection(false))

	assert.Equal(t, StateDone, w.State())
	assert.True(t, store.Load().IsZero())
}
