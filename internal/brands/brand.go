// Package brands adapts the four hotel sites to the crawl engine. Each
// adapter owns its site's collection discovery, navigation, selectors and
// identity rules; everything generic (resume, retries, merging,
// checkpoints) stays in the engine.
package brands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/parser"
	"github.com/petstay/hotel-scraper/internal/seeds"
)

var ErrUnknownBrand = errors.New("unknown brand")

// Options carries what a brand adapter needs beyond the live session.
type Options struct {
	DataDir string
	Seeds   *seeds.Loader
	Logger  *slog.Logger
}

// Paths is the on-disk file layout for one brand. Names follow the
// historical exports so existing data files and checkpoints keep working.
type Paths struct {
	OutputJSON string
	OutputCSV  string
	Checkpoint string
	SeedFile   string
}

func (p Paths) join(dir string) Paths {
	join := func(name string) string {
		if name == "" {
			return ""
		}
		return filepath.Join(dir, name)
	}
	return Paths{
		OutputJSON: join(p.OutputJSON),
		OutputCSV:  join(p.OutputCSV),
		Checkpoint: join(p.Checkpoint),
		SeedFile:   join(p.SeedFile),
	}
}

var layouts = map[string]Paths{
	"hilton": {
		OutputJSON: "hilton_pet_friendly_hotels.json",
		OutputCSV:  "hilton_pet_friendly_hotels.csv",
		Checkpoint: "hilton_last_state.json",
		SeedFile:   "hilton_locations.json",
	},
	"hyatt": {
		OutputJSON: "hyatt_hotels.json",
		OutputCSV:  "hyatt_hotels.csv",
		Checkpoint: "hyatt_checkpoint.json",
	},
	"ihg": {
		OutputJSON: "ihg_hotels_output.json",
		OutputCSV:  "ihg_hotels_output.csv",
		Checkpoint: "ihg_checkpoint.json",
		SeedFile:   "ihg_city_urls.csv",
	},
	"marriott": {
		OutputJSON: "marriott_pet_friendly_hotels.json",
		OutputCSV:  "marriott_pet_friendly_hotels.csv",
		Checkpoint: "marriott_last_state.json",
		SeedFile:   "marriott_pet_friendly_regions.json",
	},
}

type factory func(Options) crawl.Source

var registry = map[string]factory{
	"hilton":   newHilton,
	"hyatt":    newHyatt,
	"ihg":      newIHG,
	"marriott": newMarriott,
}

// Names lists the registered brands in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named brand adapter.
func New(name string, opts Options) (crawl.Source, error) {
	build, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBrand, name)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Seeds == nil {
		opts.Seeds = seeds.NewLoader(opts.Logger)
	}
	return build(opts), nil
}

// PathsFor resolves the brand's file layout under dataDir.
func PathsFor(name, dataDir string) (Paths, error) {
	layout, ok := layouts[strings.ToLower(name)]
	if !ok {
		return Paths{}, fmt.Errorf("%w: %q", ErrUnknownBrand, name)
	}
	return layout.join(dataDir), nil
}

func layoutFor(name, dataDir string) Paths {
	p, _ := PathsFor(name, dataDir)
	return p
}

// pageHTML snapshots the full DOM of the current page for goquery parsing.
func pageHTML(ctx context.Context, sess crawl.Session) (string, error) {
	v, err := sess.Evaluate(ctx, `document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("reading page HTML: %w", err)
	}
	html, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("page HTML came back as %T", v)
	}
	return html, nil
}

// clickNth scroll-centers and clicks the n-th node matching selector from
// page script, the way the sites' own UI code drives these controls.
// Element handles would go stale between the find and the click on grids
// that re-render; a single script call does not.
func clickNth(ctx context.Context, sess crawl.Session, selector string, n int) error {
	script := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll(%q);
		if (nodes.length <= %d) return false;
		nodes[%d].scrollIntoView({block: 'center'});
		nodes[%d].click();
		return true;
	})()`, selector, n, n, n)
	v, err := sess.Evaluate(ctx, script)
	if err != nil {
		return fmt.Errorf("clicking %q[%d]: %w", selector, n, err)
	}
	if clicked, _ := v.(bool); !clicked {
		return fmt.Errorf("no element %q at index %d", selector, n)
	}
	return nil
}

// sameSite reports whether two URLs share a host. Blank or unparseable
// values count as a mismatch, which is what makes a freshly restarted
// session (sitting on about:blank) trigger a reopen.
func sameSite(a, b string) bool {
	ha, ok := hostOf(a)
	if !ok {
		return false
	}
	hb, ok := hostOf(b)
	if !ok {
		return false
	}
	return ha == hb
}

func hostOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www."), true
}

func absolutize(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// setIf stores value under field when it carries data.
func setIf(rec models.Record, field, value string) {
	if value != "" {
		rec[field] = value
	}
}

// filterKeys keeps the overview rows whose label mentions needle.
func filterKeys(table map[string]string, needle string) map[string]string {
	out := map[string]string{}
	for k, v := range table {
		if strings.Contains(strings.ToLower(k), needle) {
			out[k] = v
		}
	}
	return out
}

func joinParts(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// dedupe drops repeated entries, keeping first-seen order.
func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// longestText returns the longest text among the selector matches that
// clears minLen. Detail pages carry several description-ish blocks and
// the longest one is reliably the property blurb.
func longestText(p *parser.HotelCardParser, doc *goquery.Document, minLen int, selectors ...string) string {
	best := ""
	for _, sel := range selectors {
		for _, t := range p.AllTexts(doc, sel) {
			if len(t) >= minLen && len(t) > len(best) {
				best = t
			}
		}
	}
	return best
}

// keywordLines collects short distinct lines mentioning keyword, for the
// loosely structured sections of a detail page.
func keywordLines(p *parser.HotelCardParser, doc *goquery.Document, keyword string, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range p.AllTexts(doc, "p, li, dd") {
		if len(t) > 300 || !strings.Contains(strings.ToLower(t), keyword) {
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}
