// Package seeds loads the collection lists a crawl starts from: search
// locations, city URLs, or region pages. Lists live in local JSON or CSV
// files and can optionally be refreshed from a remote endpoint.
package seeds

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/petstay/hotel-scraper/internal/ratelimit"
	"github.com/petstay/hotel-scraper/internal/storage"
)

// Seed is one crawl entry point. Name is always set; URL is empty for
// brands that search by location name instead of visiting a fixed page.
type Seed struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Loader reads seed lists from disk or over HTTP. Remote fetches share a
// token bucket so bulk refreshes cannot hammer the seed host.
type Loader struct {
	client  *resty.Client
	limiter ratelimit.RateLimiter
	logger  *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(2)

	return &Loader{
		client:  client,
		limiter: ratelimit.NewTokenBucketRateLimiter(3, 2*time.Second),
		logger:  logger.With("component", "seeds"),
	}
}

// WithTransport swaps the underlying HTTP transport. Tests use this to
// plug in a mock.
func (l *Loader) WithTransport(rt http.RoundTripper) *Loader {
	l.client.GetClient().Transport = rt
	return l
}

// LoadFile reads a seed list from a local file, dispatching on the
// extension. Missing files return os.ErrNotExist so callers can fall back
// to built-in defaults.
func (l *Loader) LoadFile(path string) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []Seed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		list, err = parseCSV(data)
	default:
		list, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	l.logger.Info("loaded seed list", "path", path, "count", len(list))
	return list, nil
}

// Fetch downloads a seed list from a remote endpoint. The response body is
// parsed as JSON when it looks like JSON, CSV otherwise.
func (l *Loader) Fetch(ctx context.Context, url string) ([]Seed, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := l.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch seed list %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch seed list %s: unexpected status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	var list []Seed
	if looksLikeJSON(body) {
		list, err = parseJSON(body)
	} else {
		list, err = parseCSV(body)
	}
	if err != nil {
		return nil, fmt.Errorf("parse seed list %s: %w", url, err)
	}

	l.logger.Info("fetched seed list", "url", url, "count", len(list))
	return list, nil
}

// Refresh tries the remote list first and falls back to the local file
// when the fetch fails. A successful fetch is persisted to path so the
// next run works offline.
func (l *Loader) Refresh(ctx context.Context, url, path string) ([]Seed, error) {
	list, err := l.Fetch(ctx, url)
	if err != nil {
		l.logger.Warn("seed refresh failed, using local file", "url", url, "error", err)
		return l.LoadFile(path)
	}
	if err := WriteJSON(path, list); err != nil {
		l.logger.Warn("could not persist refreshed seeds", "path", path, "error", err)
	}
	return list, nil
}

// WriteJSON persists a seed list as a JSON array, atomically.
func WriteJSON(path string, list []Seed) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}
	return storage.WriteFileAtomic(path, data)
}

// WriteCSV persists a seed list as name,url rows with a header.
func WriteCSV(path string, list []Seed) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"name", "url"}); err != nil {
		return fmt.Errorf("write seed header: %w", err)
	}
	for _, s := range list {
		if err := w.Write([]string{s.Name, s.URL}); err != nil {
			return fmt.Errorf("write seed row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush seed rows: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}
	return storage.WriteFileAtomic(path, buf.Bytes())
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

// parseJSON accepts either an array of seed objects or a plain array of
// strings. Older exports named the fields location_name/city/region and
// link; those aliases still resolve, current names win.
func parseJSON(data []byte) ([]Seed, error) {
	var objs []struct {
		Name         string `json:"name"`
		LocationName string `json:"location_name"`
		City         string `json:"city"`
		Region       string `json:"region"`
		URL          string `json:"url"`
		Link         string `json:"link"`
	}
	if err := json.Unmarshal(data, &objs); err == nil {
		list := make([]Seed, 0, len(objs))
		for _, o := range objs {
			list = append(list, Seed{
				Name: firstNonEmpty(o.Name, o.LocationName, o.City, o.Region),
				URL:  firstNonEmpty(o.URL, o.Link),
			})
		}
		return compact(list), nil
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("unmarshal seeds: %w", err)
	}
	list := make([]Seed, 0, len(names))
	for _, n := range names {
		list = append(list, Seed{Name: n})
	}
	return compact(list), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseCSV accepts name,url rows. A header row is recognised by a "name",
// "city" or "url" cell and skipped. Single-column files carry names only.
func parseCSV(data []byte) ([]Seed, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read seed csv: %w", err)
	}

	list := make([]Seed, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if i == 0 && isHeaderRow(row) {
			continue
		}
		s := Seed{Name: strings.TrimSpace(row[0])}
		if len(row) > 1 {
			s.URL = strings.TrimSpace(row[1])
		}
		list = append(list, s)
	}
	return compact(list), nil
}

func isHeaderRow(row []string) bool {
	for _, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "name", "city", "location", "url", "link":
			return true
		}
	}
	return false
}

// compact drops seeds with neither a name nor a URL.
func compact(list []Seed) []Seed {
	out := list[:0]
	for _, s := range list {
		if s.Name == "" && s.URL == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
