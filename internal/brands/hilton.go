package brands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/parser"
)

// The Hilton results page lists one "View hotel details" button per card;
// clicking it opens a popup that carries the overview table, the amenity
// list and the nearby/airport tab panels. The address and rate markers
// live outside the popup on the card itself.
const (
	hiltonCardButton = `button:has-text("View hotel details")`
	hiltonPetFilter  = `button[aria-label^="Pet-Friendly"]`
	hiltonPopup      = `div.relative.flex.size-full.flex-col.overflow-y-auto`
	hiltonNext       = `#pagination-right`
	hiltonAirportTab = `#airport`
)

type hilton struct {
	opts   Options
	paths  Paths
	parser *parser.HotelCardParser
	logger *slog.Logger

	col  crawl.Collection
	page int
}

func newHilton(opts Options) crawl.Source {
	return &hilton{
		opts:   opts,
		paths:  layoutFor("hilton", opts.DataDir),
		parser: parser.NewHotelCardParser(),
		logger: opts.Logger.With("component", "brand", "brand", "hilton"),
	}
}

func (h *hilton) Brand() string { return "hilton" }

func (h *hilton) Columns() []string {
	return []string{
		models.FieldHotelCode,
		models.FieldHotelName,
		models.FieldAddress,
		models.FieldAddressMapURL,
		models.FieldPhone,
		models.FieldRating,
		models.FieldDescription,
		models.FieldCardPrice,
		models.FieldOverviewTable,
		models.FieldPets,
		models.FieldParking,
		models.FieldAmenities,
		models.FieldNearby,
		models.FieldAirport,
		models.FieldIsPetFriendly,
		models.FieldState,
		models.FieldCountry,
		models.FieldLastUpdated,
		models.FieldPropertyURL,
	}
}

// Collections loads the curated location list. Hilton has no reliable
// directory page to harvest, so the file is required.
func (h *hilton) Collections(_ context.Context, _ crawl.Session) ([]crawl.Collection, error) {
	list, err := h.opts.Seeds.LoadFile(h.paths.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("hilton locations: %w", err)
	}
	cols := make([]crawl.Collection, 0, len(list))
	for _, s := range list {
		if s.URL == "" {
			continue
		}
		name := s.Name
		if name == "" {
			name = parser.PathSegment(s.URL, 1)
		}
		cols = append(cols, crawl.Collection{Name: name, URL: s.URL})
	}
	return cols, nil
}

func (h *hilton) OpenPage(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	h.col, h.page = col, 0
	if err := sess.Navigate(ctx, col.URL); err != nil {
		return err
	}
	sess.Humanize(ctx)
	h.applyPetFilter(ctx, sess)
	for p := 1; p < page; p++ {
		if err := h.clickNext(ctx, sess); err != nil {
			return fmt.Errorf("forwarding to page %d: %w", page, err)
		}
	}
	h.page = page
	return nil
}

// applyPetFilter clicks the Pet-Friendly toggle. Some location pages come
// pre-filtered and have no button, so a miss is not an error.
func (h *hilton) applyPetFilter(ctx context.Context, sess crawl.Session) {
	if _, err := sess.WaitVisible(ctx, hiltonPetFilter, 5*time.Second); err != nil {
		h.logger.Debug("pet filter not present", "error", err)
		return
	}
	if err := sess.Click(ctx, hiltonPetFilter); err != nil {
		h.logger.Debug("pet filter click failed", "error", err)
		return
	}
	sleepCtx(ctx, 2*time.Second)
}

func (h *hilton) clickNext(ctx context.Context, sess crawl.Session) error {
	el, err := sess.WaitVisible(ctx, hiltonNext, 0)
	if err != nil {
		return err
	}
	if nextDisabled(ctx, el) {
		return fmt.Errorf("pagination control disabled")
	}
	if err := el.Click(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, 2*time.Second)
}

func (h *hilton) Items(ctx context.Context, sess crawl.Session) (int, error) {
	buttons, err := sess.Find(ctx, hiltonCardButton)
	if err != nil {
		return 0, err
	}
	return len(buttons), nil
}

func (h *hilton) ScrapeItem(ctx context.Context, sess crawl.Session, col crawl.Collection, pos models.CrawlPosition) (models.Record, error) {
	if err := h.ensureList(ctx, sess, col, pos.Page); err != nil {
		return nil, err
	}
	if err := clickNth(ctx, sess, hiltonCardButton, pos.ItemIndex); err != nil {
		return nil, err
	}
	popup, err := sess.WaitVisible(ctx, hiltonPopup, 0)
	if err != nil {
		return nil, fmt.Errorf("detail popup: %w", err)
	}
	defer sess.Press(ctx, "Escape")

	// The airport list hides behind its tab; open it before snapshotting.
	if err := sess.Click(ctx, hiltonAirportTab); err == nil {
		sleepCtx(ctx, 700*time.Millisecond)
	}

	popupHTML, err := popup.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading popup: %w", err)
	}
	fullHTML, err := pageHTML(ctx, sess)
	if err != nil {
		return nil, err
	}
	return h.parseDetail(popupHTML, fullHTML, col, pos)
}

// parseDetail builds the record from the popup and the page around it.
func (h *hilton) parseDetail(popupHTML, fullHTML string, col crawl.Collection, pos models.CrawlPosition) (models.Record, error) {
	doc, err := h.parser.Document(popupHTML)
	if err != nil {
		return nil, err
	}
	pageDoc, err := h.parser.Document(fullHTML)
	if err != nil {
		return nil, err
	}

	name := h.parser.FirstText(doc, "h1", "h2")
	if name == "" {
		name = "UNKNOWN"
	}
	code := fmt.Sprintf("HILTON-%s-%d-%d", col.Name, pos.Page, pos.ItemIndex+1)
	rec := models.NewRecord(code, name)

	setIf(rec, models.FieldAddress, h.parser.FirstText(pageDoc, `span[data-testid="locationMarker"]`))
	setIf(rec, models.FieldAddressMapURL, h.parser.FirstAttr(doc, "href", `a[href^="https://www.google.com/maps/search/"]`))
	setIf(rec, models.FieldPhone, h.parser.ExtractPhone(doc.Text()))
	setIf(rec, models.FieldRating, h.parser.ExtractRating(h.parser.FirstText(doc, `p:contains("Rating")`)))
	setIf(rec, models.FieldDescription, h.parser.FirstText(doc, "p.inline.text-start"))
	setIf(rec, models.FieldCardPrice, h.parser.FirstText(pageDoc, `span[data-testid="rateItem"]`))
	setIf(rec, models.FieldPropertyURL, h.parser.FirstAttr(doc, "href", `a[href*="hilton.com/en/hotels/"]`))

	overview := h.parser.OverviewTable(doc)
	if len(overview) > 0 {
		rec[models.FieldOverviewTable] = overview
	}
	if pets := filterKeys(overview, "pet"); len(pets) > 0 {
		rec[models.FieldPets] = pets
	}
	if parking := filterKeys(overview, "park"); len(parking) > 0 {
		rec[models.FieldParking] = parking
	}
	if amenities := h.parser.AllTexts(doc, `ul.peer li span[data-testid="hotelAmenityLabel"]`); len(amenities) > 0 {
		rec[models.FieldAmenities] = amenities
	}
	if nearby := hiltonNearby(doc); len(nearby) > 0 {
		rec[models.FieldNearby] = nearby
	}
	if airports := hiltonAirports(doc); len(airports) > 0 {
		rec[models.FieldAirport] = airports
	}

	// Cards only show up behind the pet filter.
	rec[models.FieldIsPetFriendly] = true
	rec[models.FieldState] = col.Name
	rec[models.FieldCountry] = "USA"
	return rec, nil
}

func hiltonNearby(doc *goquery.Document) []map[string]string {
	var out []map[string]string
	doc.Find("#tab-panel-nearBy li").Each(func(_ int, li *goquery.Selection) {
		place := clean(li.Find("span").First().Text())
		if place == "" {
			return
		}
		entry := map[string]string{"place": place}
		if d := clean(li.ChildrenFiltered("div").Eq(1).Text()); d != "" {
			entry["distance"] = d
		}
		out = append(out, entry)
	})
	return out
}

func hiltonAirports(doc *goquery.Document) []map[string]string {
	var out []map[string]string
	doc.Find("#tab-panel-airport li").Each(func(_ int, li *goquery.Selection) {
		name := clean(li.Find("div div span").Last().Text())
		if name == "" {
			return
		}
		entry := map[string]string{"airport": name}
		if d := clean(li.Find("div div").Eq(1).Text()); d != "" {
			entry["distance"] = d
		}
		if s := clean(li.Find("p").First().Text()); s != "" {
			entry["shuttle"] = s
		}
		out = append(out, entry)
	})
	return out
}

// ensureList re-opens the results page when the session is no longer on
// it, which is the case right after a mid-page session restart.
func (h *hilton) ensureList(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	cur, err := sess.CurrentURL(ctx)
	if err == nil && h.page == page && h.col.URL == col.URL && sameSite(cur, col.URL) {
		return nil
	}
	h.logger.Info("reopening results page", "collection", col.Name, "page", page)
	return h.OpenPage(ctx, sess, col, page)
}

// NextPage advances with a fresh load instead of clicking through: the
// grid goes stale after a few in-place advances, so it reopens the
// location and forward-clicks to the target page.
func (h *hilton) NextPage(ctx context.Context, sess crawl.Session) (bool, error) {
	els, err := sess.Find(ctx, hiltonNext)
	if err != nil {
		return false, err
	}
	if len(els) == 0 || nextDisabled(ctx, els[0]) {
		return false, nil
	}
	if err := h.OpenPage(ctx, sess, h.col, h.page+1); err != nil {
		return false, err
	}
	return true, nil
}

func nextDisabled(ctx context.Context, el crawl.Element) bool {
	if v, err := el.Attribute(ctx, "disabled"); err == nil && v != "" {
		return true
	}
	class, err := el.Attribute(ctx, "class")
	return err == nil && strings.Contains(class, "disabled")
}
