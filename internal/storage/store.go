package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/petstay/hotel-scraper/internal/models"
)

// CSVMode selects how the CSV file tracks the record set.
type CSVMode string

const (
	// CSVAppend writes the header once and one row per newly added record.
	// Later field fills do not rewrite old rows.
	CSVAppend CSVMode = "append"
	// CSVRewrite regenerates the whole CSV from the set on every flush.
	CSVRewrite CSVMode = "rewrite"
)

// RecordStore owns one brand's persisted output: the JSON accumulator
// (always rewritten in full, atomically) and the CSV rendering. Existing
// output is loaded at construction so resumed crawls keep prior data;
// unreadable files degrade to an empty set with a warning.
type RecordStore struct {
	mu       sync.RWMutex
	set      *RecordSet
	jsonPath string
	csvPath  string
	columns  []string
	csvMode  CSVMode
	logger   *slog.Logger
}

func NewRecordStore(jsonPath, csvPath string, columns []string, mode CSVMode, logger *slog.Logger) (*RecordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = CSVAppend
	}
	s := &RecordStore{
		set:      NewRecordSet(),
		jsonPath: jsonPath,
		csvPath:  csvPath,
		columns:  columns,
		csvMode:  mode,
		logger:   logger.With("component", "records"),
	}
	for _, p := range []string{jsonPath, csvPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	s.loadExisting()
	return s, nil
}

func (s *RecordStore) loadExisting() {
	data, err := os.ReadFile(s.jsonPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("existing output unreadable, starting empty", "path", s.jsonPath, "error", err)
		}
		return
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("existing output corrupt, starting empty", "path", s.jsonPath, "error", err)
		return
	}
	s.set.Merge(records...)
	s.logger.Info("loaded existing records", "path", s.jsonPath, "count", s.set.Len())
}

// Upsert merges one scraped record and persists: full JSON rewrite plus a CSV
// row append when the record is new and the store is in append mode.
func (s *RecordStore) Upsert(rec models.Record) (MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.set.Merge(rec)
	if err := s.saveJSON(); err != nil {
		return stats, err
	}
	if s.csvMode == CSVAppend && stats.Added > 0 {
		if err := s.appendCSVRow(rec); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Flush rewrites the JSON file and, in rewrite mode, the CSV file from the
// full set. Call at page/collection boundaries and on completion.
func (s *RecordStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveJSON(); err != nil {
		return err
	}
	if s.csvMode == CSVRewrite {
		return s.rewriteCSV()
	}
	return nil
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Len()
}

func (s *RecordStore) Has(key models.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Has(key)
}

func (s *RecordStore) Records() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Records()
}

func (s *RecordStore) saveJSON() error {
	data, err := json.MarshalIndent(s.set.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if err := WriteFileAtomic(s.jsonPath, data); err != nil {
		return fmt.Errorf("save records json: %w", err)
	}
	return nil
}

func (s *RecordStore) appendCSVRow(rec models.Record) error {
	f, err := os.OpenFile(s.csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(s.columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := w.Write(s.csvRow(rec)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (s *RecordStore) rewriteCSV() error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range s.set.Records() {
		if err := w.Write(s.csvRow(rec)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := WriteFileAtomic(s.csvPath, buf.Bytes()); err != nil {
		return fmt.Errorf("save csv: %w", err)
	}
	return nil
}

func (s *RecordStore) csvRow(rec models.Record) []string {
	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		row[i] = rec.StringField(col)
	}
	return row
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it, then renames over the destination. A crash mid-write leaves the old
// file intact.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
