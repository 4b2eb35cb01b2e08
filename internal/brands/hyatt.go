package brands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/parser"
)

// Hyatt lists every pet-friendly property on one promo page that grows in
// place through a show-more button. Each batch the button appends counts
// as one page, so a resume replays the clicks to get back to its batch.
// Detail fields come from the property page itself.
const (
	hyattStart = "https://www.hyatt.com/landing/promo/pet-friendly-hotels-at-hyatt"

	hyattCard         = `div[class^="styles_hotel-card__content"]`
	hyattCardName     = `a.be-text-card-title`
	hyattCardAddr1    = `div[class^="styles_hotel-card__address-1"]`
	hyattCardAddr2    = `div[class^="styles_hotel-card__address-2"]`
	hyattShowMore     = `div[class^="styles_hotel-gallery-list__more-btn"] button`
	hyattAmenity      = `ul[data-locator="amenity-list-core2"] li p`
	hyattPetsOverview = `div[data-locator="pets-overview-text"]`
	hyattPetFees      = `[data-locator="pet-policy-fees"]`
	hyattWeight       = `p[data-locator*="weight"]`
)

type hyatt struct {
	opts   Options
	parser *parser.HotelCardParser
	logger *slog.Logger
	seen   *lru.Cache[string, struct{}]

	col       crawl.Collection
	page      int
	pageStart int
}

func newHyatt(opts Options) crawl.Source {
	seen, _ := lru.New[string, struct{}](4096)
	return &hyatt{
		opts:   opts,
		parser: parser.NewHotelCardParser(),
		logger: opts.Logger.With("component", "brand", "brand", "hyatt"),
		seen:   seen,
	}
}

func (y *hyatt) Brand() string { return "hyatt" }

func (y *hyatt) Columns() []string {
	return []string{
		models.FieldHotelCode,
		models.FieldHotelName,
		models.FieldAddress,
		models.FieldDescription,
		models.FieldAmenities,
		models.FieldPets,
		models.FieldPhone,
		models.FieldPropertyURL,
		models.FieldLastUpdated,
	}
}

func (y *hyatt) Collections(_ context.Context, _ crawl.Session) ([]crawl.Collection, error) {
	return []crawl.Collection{{Name: "pet-friendly-hotels", URL: hyattStart}}, nil
}

func (y *hyatt) OpenPage(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	y.col, y.page, y.pageStart = col, 0, 0
	if err := sess.Navigate(ctx, col.URL); err != nil {
		return err
	}
	sess.Humanize(ctx)
	sleepCtx(ctx, 3*time.Second)
	for p := 1; p < page; p++ {
		n, err := y.cardCount(ctx, sess)
		if err != nil {
			return err
		}
		more, err := y.clickShowMore(ctx, sess)
		if err != nil {
			return err
		}
		if !more {
			return fmt.Errorf("list ended at batch %d while forwarding to %d", p, page)
		}
		y.pageStart = n
	}
	y.page = page
	return nil
}

func (y *hyatt) cardCount(ctx context.Context, sess crawl.Session) (int, error) {
	cards, err := sess.Find(ctx, hyattCard)
	if err != nil {
		return 0, err
	}
	return len(cards), nil
}

// clickShowMore clicks the load-more button. A missing button means the
// list is complete, not an error.
func (y *hyatt) clickShowMore(ctx context.Context, sess crawl.Session) (bool, error) {
	el, err := sess.WaitVisible(ctx, hyattShowMore, 5*time.Second)
	if err != nil {
		if crawl.IsSessionFailure(err) {
			return false, err
		}
		return false, nil
	}
	el.ScrollIntoView(ctx)
	sleepCtx(ctx, time.Second)
	if err := el.Click(ctx); err != nil {
		return false, err
	}
	sleepCtx(ctx, 2*time.Second)
	return true, nil
}

// Items counts only the cards the current batch added.
func (y *hyatt) Items(ctx context.Context, sess crawl.Session) (int, error) {
	total, err := y.cardCount(ctx, sess)
	if err != nil {
		return 0, err
	}
	if total < y.pageStart {
		return 0, nil
	}
	return total - y.pageStart, nil
}

func (y *hyatt) ScrapeItem(ctx context.Context, sess crawl.Session, col crawl.Collection, pos models.CrawlPosition) (models.Record, error) {
	if err := y.ensureList(ctx, sess, col, pos.Page); err != nil {
		return nil, err
	}
	cards, err := sess.Find(ctx, hyattCard)
	if err != nil {
		return nil, err
	}
	abs := y.pageStart + pos.ItemIndex
	if abs >= len(cards) {
		return nil, fmt.Errorf("card %d missing, page has %d", abs, len(cards))
	}
	html, err := cards[abs].HTML(ctx)
	if err != nil {
		return nil, err
	}
	card, err := y.parseCard(html, col.URL)
	if err != nil {
		return nil, err
	}
	if card.URL == "" {
		return nil, fmt.Errorf("card %d has no property link", abs)
	}
	if y.seen.Contains(card.URL) {
		y.logger.Debug("skipping already scraped property", "url", card.URL)
		return nil, nil
	}

	rec := models.NewRecord(card.Code, card.Name)
	setIf(rec, models.FieldAddress, card.Address)
	rec[models.FieldPropertyURL] = card.URL

	if err := y.fillDetail(ctx, sess, card.URL, rec); err != nil {
		if crawl.IsSessionFailure(err) {
			return nil, err
		}
		y.logger.Warn("detail page failed, keeping card fields", "url", card.URL, "error", err)
	}
	y.seen.Add(card.URL, struct{}{})
	return rec, nil
}

type hyattCardInfo struct {
	Code    string
	Name    string
	Address string
	URL     string
}

func (y *hyatt) parseCard(html, base string) (hyattCardInfo, error) {
	doc, err := y.parser.Document(html)
	if err != nil {
		return hyattCardInfo{}, err
	}
	info := hyattCardInfo{
		Name: y.parser.FirstText(doc, hyattCardName),
		URL:  absolutize(base, y.parser.FirstAttr(doc, "href", hyattCardName)),
		Address: joinParts(", ",
			y.parser.FirstText(doc, hyattCardAddr1),
			y.parser.FirstText(doc, hyattCardAddr2)),
	}
	if info.Name == "" {
		info.Name = "UNKNOWN"
	}
	// Property slugs lead with the booking code, so
	// "/hotels/grand-hyatt-austin" codes as "grand".
	info.Code = parser.SlugToken(parser.PathSegment(info.URL, 1))
	if info.Code == "" {
		info.Code = strings.ToLower(strings.ReplaceAll(info.Name, " ", "-"))
	}
	return info, nil
}

func (y *hyatt) fillDetail(ctx context.Context, sess crawl.Session, url string, rec models.Record) error {
	if err := sess.Navigate(ctx, url); err != nil {
		return err
	}
	sleepCtx(ctx, 2*time.Second)
	html, err := pageHTML(ctx, sess)
	if err != nil {
		return err
	}
	return y.parseDetail(html, rec)
}

func (y *hyatt) parseDetail(html string, rec models.Record) error {
	doc, err := y.parser.Document(html)
	if err != nil {
		return err
	}
	setIf(rec, models.FieldDescription, longestText(y.parser, doc, 80, "main p"))
	if amenities := y.parser.AllTexts(doc, hyattAmenity); len(amenities) > 0 {
		rec[models.FieldAmenities] = amenities
	}
	pets := map[string]any{}
	if policy := longestText(y.parser, doc, 1, hyattPetsOverview); policy != "" {
		pets["policy"] = policy
	}
	if fees := y.parser.AllTexts(doc, hyattPetFees); len(fees) > 0 {
		pets["fees"] = fees
	}
	if weights := y.parser.AllTexts(doc, hyattWeight); len(weights) > 0 {
		pets["weight_limits"] = weights
	}
	if len(pets) > 0 {
		rec[models.FieldPets] = pets
	}
	if tel := y.parser.FirstAttr(doc, "href", `a[href^="tel:"]`); tel != "" {
		rec[models.FieldPhone] = strings.TrimPrefix(tel, "tel:")
	}
	return nil
}

// ensureList brings the session back to the promo page. ScrapeItem leaves
// the session on a property page, so this runs before every card access.
func (y *hyatt) ensureList(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	cur, err := sess.CurrentURL(ctx)
	if err == nil && y.page == page && strings.HasPrefix(cur, col.URL) {
		return nil
	}
	y.logger.Info("reopening hotel list", "page", page)
	return y.OpenPage(ctx, sess, col, page)
}

func (y *hyatt) NextPage(ctx context.Context, sess crawl.Session) (bool, error) {
	if err := y.ensureList(ctx, sess, y.col, y.page); err != nil {
		return false, err
	}
	before, err := y.cardCount(ctx, sess)
	if err != nil {
		return false, err
	}
	more, err := y.clickShowMore(ctx, sess)
	if err != nil || !more {
		return false, err
	}
	after, err := y.cardCount(ctx, sess)
	if err != nil {
		return false, err
	}
	if after <= before {
		return false, nil
	}
	y.pageStart = before
	y.page++
	return true, nil
}
