package crawl

import (
	"context"

	"github.com/petstay/hotel-scraper/internal/models"
)

// Collection is one unit of the outer crawl loop: a city, region or search
// seed whose results are paginated independently.
type Collection struct {
	Name string
	URL  string
}

// Source adapts one hotel site to the engine. Implementations own every
// site-specific detail: how collections are discovered, how a results page
// is opened, how cards are counted and scraped, and how pagination
// advances. Positions passed to ScrapeItem are 0-based item indexes on the
// current page.
type Source interface {
	// Brand returns the short site name used in logs and file paths.
	Brand() string

	// Collections discovers or loads the ordered list of collections.
	// The order must be stable across runs for resume to line up.
	Collections(ctx context.Context, sess Session) ([]Collection, error)

	// OpenPage brings the session to the given 1-based results page of the
	// collection. Page 1 is a fresh open; pages beyond 1 are only requested
	// when resuming mid-collection.
	OpenPage(ctx context.Context, sess Session, col Collection, page int) error

	// Items counts the result cards on the current page.
	Items(ctx context.Context, sess Session) (int, error)

	// ScrapeItem extracts one record from the card at pos.ItemIndex on the
	// current page. It locates the card fresh on each call so that a retry
	// after a session restart still works.
	ScrapeItem(ctx context.Context, sess Session, col Collection, pos models.CrawlPosition) (models.Record, error)

	// NextPage advances the session to the following results page. It
	// returns false when the pagination control is missing or disabled.
	NextPage(ctx context.Context, sess Session) (bool, error)

	// Columns lists the CSV column order for this site's records.
	Columns() []string
}
