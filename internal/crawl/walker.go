package crawl

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/petstay/hotel-scraper/internal/metrics"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/storage"
)

// WalkState names where the walker sits inside the
// collections -> pages -> items loop.
type WalkState int

const (
	StateStart WalkState = iota
	StateAtCollection
	StateAtPage
	StateAtItem
	StatePageExhausted
	StateCollectionExhausted
	StateDone
)

func (s WalkState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAtCollection:
		return "at_collection"
	case StateAtPage:
		return "at_page"
	case StateAtItem:
		return "at_item"
	case StatePageExhausted:
		return "page_exhausted"
	case StateCollectionExhausted:
		return "collection_exhausted"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Walker tracks the crawl position through collections, pages and items
// and persists it through a checkpoint store after every transition. On
// resume it replays the saved position as skip counts: the caller starts
// at the saved collection and page, and the first BeginPage call returns
// the saved item index as the starting offset. Transitions happen on the
// crawl goroutine; Position and State may be read from others.
type Walker struct {
	checkpoints *storage.CheckpointStore
	metrics     *metrics.CrawlMetrics
	logger      *slog.Logger

	mu          sync.Mutex
	pos         models.CrawlPosition
	state       WalkState
	resumeArmed bool
}

func NewWalker(checkpoints *storage.CheckpointStore, m *metrics.CrawlMetrics, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		checkpoints: checkpoints,
		metrics:     m,
		logger:      logger.With("component", "walker"),
		pos:         models.ZeroPosition(),
		state:       StateStart,
	}
}

// Resume loads the saved position and arms the one-shot item skip. A
// missing or corrupt checkpoint yields the zero position and a fresh walk.
func (w *Walker) Resume() models.CrawlPosition {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = w.checkpoints.Load()
	w.state = StateAtCollection
	w.resumeArmed = !w.pos.IsZero()
	if w.resumeArmed {
		w.logger.Info("resuming from checkpoint",
			"collection", w.pos.CollectionIndex,
			"page", w.pos.Page,
			"item", w.pos.ItemIndex)
	}
	return w.pos
}

// Position returns the current crawl position.
func (w *Walker) Position() models.CrawlPosition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// State returns the walker's current state.
func (w *Walker) State() WalkState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// BeginPage marks the current page open with itemCount cards on it and
// returns the index to start scraping from. Directly after a resume that
// is the saved item index, clamped to itemCount when the page shrank since
// the checkpoint was written. Every later page starts at zero.
func (w *Walker) BeginPage(itemCount int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateAtPage
	if !w.resumeArmed {
		return 0
	}
	w.resumeArmed = false
	start := w.pos.ItemIndex
	if start > itemCount {
		w.logger.Warn("saved item index beyond current page, skipping page",
			"saved", start, "items", itemCount)
		start = itemCount
	}
	if start > 0 {
		w.logger.Info("skipping already processed items", "count", start)
	}
	return start
}

// ItemDone advances past a successfully processed item and persists the
// new position.
func (w *Walker) ItemDone() error {
	return w.advanceItem()
}

// SkipItem advances past a failed item. The slot is given up rather than
// retried on a later run, which keeps resume counting aligned with the
// page layout.
func (w *Walker) SkipItem() error {
	return w.advanceItem()
}

func (w *Walker) advanceItem() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos.ItemIndex++
	w.state = StateAtItem
	if err := w.checkpoints.Save(w.pos); err != nil {
		return fmt.Errorf("persisting position after item: %w", err)
	}
	w.metrics.CheckpointSaved()
	return nil
}

// EndPage closes the current page. With hasNext the position moves to the
// top of the following page and is persisted; without it the walker waits
// for EndCollection.
func (w *Walker) EndPage(hasNext bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StatePageExhausted
	if !hasNext {
		return nil
	}
	w.pos.Page++
	w.pos.ItemIndex = 0
	if err := w.checkpoints.Save(w.pos); err != nil {
		return fmt.Errorf("persisting position after page: %w", err)
	}
	w.metrics.CheckpointSaved()
	return nil
}

// EndCollection closes the current collection. With hasMore the position
// moves to the start of the next collection and is persisted. On the final
// collection the walk is done and the checkpoint is cleared so the next
// run starts fresh.
func (w *Walker) EndCollection(hasMore bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateCollectionExhausted
	if hasMore {
		w.pos.CollectionIndex++
		w.pos.Page = 1
		w.pos.ItemIndex = 0
		w.state = StateAtCollection
		if err := w.checkpoints.Save(w.pos); err != nil {
			return fmt.Errorf("persisting position after collection: %w", err)
		}
		w.metrics.CheckpointSaved()
		return nil
	}
	w.state = StateDone
	if err := w.checkpoints.Clear(); err != nil {
		return fmt.Errorf("clearing checkpoint after completed walk: %w", err)
	}
	w.logger.Info("walk complete, checkpoint cleared")
	return nil
}
