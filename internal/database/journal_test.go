package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/crawl"
)

// capturingStore records every batch it receives.
type capturingStore struct {
	mu      sync.Mutex
	batches [][]crawl.Event
	fail    int
}

func (s *capturingStore) SaveEvents(ctx context.Context, events []crawl.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("database unavailable")
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *capturingStore) saved() []crawl.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []crawl.Event
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

// blockingStore holds every save until released.
type blockingStore struct {
	capturingStore
	release chan struct{}
}

func (s *blockingStore) SaveEvents(ctx context.Context, events []crawl.Event) error {
	<-s.release
	return s.capturingStore.SaveEvents(ctx, events)
}

func journalEvent(n int) crawl.Event {
	return crawl.Event{
		ID:    uuid.NewString(),
		RunID: uuid.NewString(),
		Brand: "hilton",
		Type:  crawl.EventItemScraped,
		At:    time.Now(),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestJournalPersistsRecordedEvents(t *testing.T) {
	store := &capturingStore{}
	j := NewJournal(store, 100, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	first := journalEvent(0)
	second := journalEvent(1)
	j.Record(first)
	j.Record(second)

	j.Close()

	saved := store.saved()
	require.Len(t, saved, 2)
	assert.Equal(t, first.ID, saved[0].ID)
	assert.Equal(t, second.ID, saved[1].ID)
}

func TestJournalRecordNeverBlocks(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	j := NewJournal(store, 10, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	start := time.Now()
	for i := 0; i < 500; i++ {
		j.Record(journalEvent(i))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "recording must not wait on the store")

	close(store.release)
	j.Close()

	assert.Positive(t, j.queue.Dropped(), "overflow should drop rather than block")
}

func TestJournalFlushesBufferOnClose(t *testing.T) {
	store := &capturingStore{}
	j := NewJournal(store, 100, quietLogger())

	// Writer never started until after the events are queued; Close must
	// still hand them to the store.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		j.Record(journalEvent(i))
	}

	j.Start(ctx)
	j.Close()

	assert.Len(t, store.saved(), 5)
}

func TestJournalKeepsWritingAfterStoreError(t *testing.T) {
	store := &capturingStore{fail: 1}
	j := NewJournal(store, 100, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	j.Record(journalEvent(0))

	// Give the writer a moment to hit the failing save.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.fail == 0
	}, time.Second, 5*time.Millisecond)

	survivor := journalEvent(1)
	j.Record(survivor)
	j.Close()

	saved := store.saved()
	require.NotEmpty(t, saved)
	assert.Equal(t, survivor.ID, saved[len(saved)-1].ID)
}

func TestJournalEventBatching(t *testing.T) {
	store := &capturingStore{}
	j := NewJournal(store, 100, quietLogger())

	for i := 0; i < 20; i++ {
		j.Record(journalEvent(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	j.Close()

	require.Len(t, store.saved(), 20)
	store.mu.Lock()
	batchCount := len(store.batches)
	store.mu.Unlock()
	assert.LessOrEqual(t, batchCount, 20)
	for i, b := range store.batches {
		assert.NotEmptyf(t, b, "batch %d", i)
	}
}

func TestJournalCloseIsIdempotentWithNoEvents(t *testing.T) {
	store := &capturingStore{}
	j := NewJournal(store, 10, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	j.Close()

	assert.Empty(t, store.saved())
}

func TestJournalEventIdentifiersSurviveRoundTrip(t *testing.T) {
	store := &capturingStore{}
	j := NewJournal(store, 100, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	ev := crawl.Event{
		ID:        uuid.NewString(),
		RunID:     uuid.NewString(),
		Brand:     "marriott",
		Type:      crawl.EventItemScraped,
		HotelCode: fmt.Sprintf("MAR-%d-%d", 3, 14),
		At:        time.Now(),
	}
	j.Record(ev)
	j.Close()

	saved := store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, ev.RunID, saved[0].RunID)
	assert.Equal(t, "MAR-3-14", saved[0].HotelCode)
}
