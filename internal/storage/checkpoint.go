package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/petstay/hotel-scraper/internal/models"
)

// Checkpoint field names have been renamed across scraper generations. Load
// falls back through these aliases, first present wins.
var (
	collectionAliases = []string{"collection_index", "location_idx", "last_location_index", "city_index"}
	pageAliases       = []string{"page", "last_page"}
	itemAliases       = []string{"item_index", "hotel_idx", "last_card_index", "hotel_index", "last_hotel_index"}
)

type checkpointFile struct {
	CollectionIndex int       `json:"collection_index"`
	Page            int       `json:"page"`
	ItemIndex       int       `json:"item_index"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CheckpointStore persists the crawl position to a small JSON file. Saves are
// atomic (temp file, fsync, rename) so a crash mid-write never corrupts the
// previous checkpoint. Missing or unreadable state is never an error: the
// crawl starts from the beginning instead.
type CheckpointStore struct {
	path   string
	logger *slog.Logger
}

func NewCheckpointStore(path string, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{
		path:   path,
		logger: logger.With("component", "checkpoint"),
	}
}

// Load returns the persisted position, or the zero position when nothing
// usable was saved. Corrupt data degrades to a restart, not a crash.
func (s *CheckpointStore) Load() models.CrawlPosition {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting from zero", "path", s.path, "error", err)
		}
		return models.ZeroPosition()
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("checkpoint corrupt, starting from zero", "path", s.path, "error", err)
		return models.ZeroPosition()
	}

	pos := models.CrawlPosition{
		CollectionIndex: intAlias(raw, collectionAliases, 0),
		Page:            intAlias(raw, pageAliases, 1),
		ItemIndex:       intAlias(raw, itemAliases, 0),
	}
	return pos.Normalize()
}

// Save persists the position durably before returning.
func (s *CheckpointStore) Save(pos models.CrawlPosition) error {
	pos = pos.Normalize()
	data, err := json.MarshalIndent(checkpointFile{
		CollectionIndex: pos.CollectionIndex,
		Page:            pos.Page,
		ItemIndex:       pos.ItemIndex,
		UpdatedAt:       time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint so the next Load returns the zero position.
// Used only after full, successful completion of a crawl.
func (s *CheckpointStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *CheckpointStore) Path() string {
	return s.path
}

func intAlias(raw map[string]any, names []string, def int) int {
	for _, name := range names {
		v, ok := raw[name]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}
