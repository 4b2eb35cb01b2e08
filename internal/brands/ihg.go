package brands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/parser"
	"github.com/petstay/hotel-scraper/internal/seeds"
)

// IHG works city by city: the explore page links out to destination pages
// and each destination lists all of its hotels at once, so a collection is
// a city and every city has exactly one page. Long runs leak browser
// memory, so each new city starts on a fresh session.
const (
	ihgStart = "https://www.ihg.com/explore/pet-friendly-hotels"

	ihgCityLink     = `ul.cmp-list a.cmp-list__item-link`
	ihgListBox      = `#hotelList`
	ihgCard         = `#hotelList > div > ul > li`
	ihgCardFallback = `li:has(a.cmp-card__title-link)`
	ihgCookieAccept = `button#onetrust-accept-btn-handler`
)

var ihgCodePattern = regexp.MustCompile(`^[a-z0-9]{5}$`)

type ihg struct {
	opts   Options
	paths  Paths
	parser *parser.HotelCardParser
	logger *slog.Logger

	col     crawl.Collection
	started bool
}

func newIHG(opts Options) crawl.Source {
	return &ihg{
		opts:   opts,
		paths:  layoutFor("ihg", opts.DataDir),
		parser: parser.NewHotelCardParser(),
		logger: opts.Logger.With("component", "brand", "brand", "ihg"),
	}
}

func (i *ihg) Brand() string { return "ihg" }

func (i *ihg) Columns() []string {
	return []string{
		models.FieldHotelCode,
		models.FieldHotelName,
		models.FieldAddress,
		models.FieldCity,
		models.FieldState,
		models.FieldCountry,
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
		models.FieldLastUpdated,
	}
}

// Collections loads the city list from disk, harvesting it from the
// explore page first when the file is missing. The harvested list is
// written back so later runs resume against the same city order.
func (i *ihg) Collections(ctx context.Context, sess crawl.Session) ([]crawl.Collection, error) {
	list, err := i.opts.Seeds.LoadFile(i.paths.SeedFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ihg cities: %w", err)
	}
	if len(list) == 0 {
		if list, err = i.discoverCities(ctx, sess); err != nil {
			return nil, err
		}
		if err := seeds.WriteCSV(i.paths.SeedFile, list); err != nil {
			i.logger.Warn("could not persist city list", "path", i.paths.SeedFile, "error", err)
		}
	}
	cols := make([]crawl.Collection, 0, len(list))
	for _, s := range list {
		if s.URL == "" {
			continue
		}
		cols = append(cols, crawl.Collection{Name: s.Name, URL: s.URL})
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no city pages found")
	}
	return cols, nil
}

func (i *ihg) discoverCities(ctx context.Context, sess crawl.Session) ([]seeds.Seed, error) {
	i.logger.Info("city list missing, harvesting explore page")
	if err := sess.Navigate(ctx, ihgStart); err != nil {
		return nil, err
	}
	i.dismissOverlays(ctx, sess)
	if _, err := sess.WaitVisible(ctx, ihgCityLink, 15*time.Second); err != nil {
		return nil, fmt.Errorf("explore page listed no destinations: %w", err)
	}
	sleepCtx(ctx, 1500*time.Millisecond)

	html, err := pageHTML(ctx, sess)
	if err != nil {
		return nil, err
	}
	doc, err := i.parser.Document(html)
	if err != nil {
		return nil, err
	}
	var list []seeds.Seed
	seen := map[string]bool{}
	doc.Find(ihgCityLink).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = absolutize(ihgStart, strings.TrimSpace(href))
		if href == "" || seen[href] || !ihgDestinationURL(href) {
			return
		}
		seen[href] = true
		list = append(list, seeds.Seed{Name: clean(a.Text()), URL: href})
	})
	return list, nil
}

// ihgDestinationURL keeps links that lead to hotel listings rather than
// brand chrome or corporate pages.
func ihgDestinationURL(href string) bool {
	low := strings.ToLower(href)
	if !strings.Contains(low, "ihg.com") {
		return false
	}
	return strings.Contains(low, "hotels") ||
		strings.Contains(low, "/explore/") ||
		strings.Contains(low, "/destinations") ||
		strings.Contains(low, "pet")
}

// OpenPage ignores the page number: every city is a single page.
func (i *ihg) OpenPage(ctx context.Context, sess crawl.Session, col crawl.Collection, _ int) error {
	if i.started && col.URL != i.col.URL {
		i.logger.Info("fresh session for next city", "city", col.Name)
		if err := sess.Restart(ctx); err != nil {
			return err
		}
	}
	i.started = true
	i.col = col
	if err := sess.Navigate(ctx, col.URL); err != nil {
		return err
	}
	sess.Humanize(ctx)
	i.dismissOverlays(ctx, sess)
	softScroll(ctx, sess, 3)
	if _, err := sess.WaitVisible(ctx, ihgListBox, 10*time.Second); err != nil {
		if crawl.IsSessionFailure(err) {
			return err
		}
		i.logger.Debug("hotel list container not found", "city", col.Name)
	}
	return sleepCtx(ctx, 1500*time.Millisecond)
}

func (i *ihg) dismissOverlays(ctx context.Context, sess crawl.Session) {
	if err := sess.Click(ctx, ihgCookieAccept); err == nil {
		sleepCtx(ctx, 500*time.Millisecond)
	}
}

func softScroll(ctx context.Context, sess crawl.Session, steps int) {
	for step := 1; step <= steps; step++ {
		sess.Evaluate(ctx, fmt.Sprintf("window.scrollTo(0, document.body.scrollHeight * %d / %d)", step, steps))
		sleepCtx(ctx, 300*time.Millisecond)
	}
}

func (i *ihg) cardElements(ctx context.Context, sess crawl.Session) ([]crawl.Element, error) {
	cards, err := sess.Find(ctx, ihgCard)
	if err != nil || len(cards) > 0 {
		return cards, err
	}
	return sess.Find(ctx, ihgCardFallback)
}

func (i *ihg) Items(ctx context.Context, sess crawl.Session) (int, error) {
	cards, err := i.cardElements(ctx, sess)
	if err != nil {
		return 0, err
	}
	return len(cards), nil
}

func (i *ihg) ScrapeItem(ctx context.Context, sess crawl.Session, col crawl.Collection, pos models.CrawlPosition) (models.Record, error) {
	if err := i.ensureList(ctx, sess, col, pos.Page); err != nil {
		return nil, err
	}
	cards, err := i.cardElements(ctx, sess)
	if err != nil {
		return nil, err
	}
	if pos.ItemIndex >= len(cards) {
		return nil, fmt.Errorf("card %d missing, city has %d", pos.ItemIndex, len(cards))
	}
	html, err := cards[pos.ItemIndex].HTML(ctx)
	if err != nil {
		return nil, err
	}
	rec, detailURL, err := i.parseCard(html, col, pos)
	if err != nil {
		return nil, err
	}
	if detailURL != "" {
		if err := i.fillDetail(ctx, sess, detailURL, rec); err != nil {
			if crawl.IsSessionFailure(err) {
				return nil, err
			}
			i.logger.Warn("detail page failed, keeping card fields", "url", detailURL, "error", err)
		}
	}
	return rec, nil
}

func (i *ihg) parseCard(html string, col crawl.Collection, pos models.CrawlPosition) (models.Record, string, error) {
	doc, err := i.parser.Document(html)
	if err != nil {
		return nil, "", err
	}
	name := i.parser.FirstText(doc, "a.cmp-card__title-link", "a")
	if name == "" {
		name = "UNKNOWN"
	}
	detailURL := absolutize(col.URL, i.parser.FirstAttr(doc, "href", "a.cmp-card__title-link", "a"))
	code := ihgHotelCode(detailURL)
	if code == "" {
		code = fmt.Sprintf("ihg-%d-%d", pos.Page, pos.ItemIndex+1)
	}
	rec := models.NewRecord(code, name)

	address := i.parser.FirstText(doc, "address")
	if address == "" {
		address = ihgCardAddress(doc)
	}
	setIf(rec, models.FieldAddress, address)
	city, state, country := parser.ParseAddress(address)
	if city == "" {
		city = col.Name
	}
	setIf(rec, models.FieldCity, city)
	setIf(rec, models.FieldState, state)
	setIf(rec, models.FieldCountry, country)

	if amenities := i.parser.AllTexts(doc, ".cmp-amenity-list .cmp-amenity-list__item .cmp-image__title"); len(amenities) > 0 {
		rec[models.FieldAmenities] = dedupe(amenities)
	}
	price := joinParts(" ",
		i.parser.FirstText(doc, ".cmp-card__hotel-price-value"),
		i.parser.FirstText(doc, ".cmp-card__hotel-price-currency"))
	setIf(rec, models.FieldCardPrice, price)
	setIf(rec, models.FieldRating, i.parser.FirstText(doc, ".cmp-card__guest-reviews .cmp-card__rating-count"))
	setIf(rec, models.FieldPropertyURL, detailURL)
	return rec, detailURL, nil
}

// ihgCardAddress falls back to any small print that looks like a street
// address when the card has no address element.
func ihgCardAddress(doc *goquery.Document) string {
	var found string
	doc.Find("p, small, .cmp-card__address").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := clean(s.Text())
		if t != "" && strings.ContainsAny(t, "0123456789") && strings.Contains(t, ",") {
			found = t
			return false
		}
		return true
	})
	return found
}

// ihgHotelCode digs the booking code out of a detail URL such as
// /holidayinn/hotels/us/en/austin/ausdt/hoteldetail: the five character
// alphanumeric segment wins, otherwise the innermost meaningful segment.
func ihgHotelCode(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for _, s := range segments {
		if ihgCodePattern.MatchString(strings.ToLower(s)) {
			return strings.ToLower(s)
		}
	}
	for n := len(segments) - 1; n >= 0; n-- {
		s := strings.ToLower(segments[n])
		if s != "" && s != "hoteldetail" && s != "amenities" {
			return s
		}
	}
	return ""
}

func (i *ihg) fillDetail(ctx context.Context, sess crawl.Session, detailURL string, rec models.Record) error {
	if err := sess.Navigate(ctx, detailURL); err != nil {
		return err
	}
	i.dismissOverlays(ctx, sess)
	i.expandReadMore(ctx, sess)
	softScroll(ctx, sess, 4)
	html, err := pageHTML(ctx, sess)
	if err != nil {
		return err
	}
	return i.parseDetail(html, rec)
}

// expandReadMore clicks a collapsed description open so the full text is
// in the DOM before the snapshot.
func (i *ihg) expandReadMore(ctx context.Context, sess crawl.Session) {
	links, err := sess.Find(ctx, "a.morelink, a.read-more, button.read-more")
	if err != nil {
		return
	}
	for _, link := range links {
		txt, err := link.Text(ctx)
		if err != nil {
			continue
		}
		low := strings.ToLower(txt)
		if strings.Contains(low, "read more") || strings.Contains(low, "show more") || strings.Contains(low, "see more") {
			link.ScrollIntoView(ctx)
			if link.Click(ctx) == nil {
				sleepCtx(ctx, 500*time.Millisecond)
			}
			return
		}
	}
}

func (i *ihg) parseDetail(html string, rec models.Record) error {
	doc, err := i.parser.Document(html)
	if err != nil {
		return err
	}

	desc := longestText(i.parser, doc, 120,
		"div.hotel-description, div.description, .hotel-overview, .property-description",
		"section#overview, section.overview",
		".cmp-text, .cmp-teaser__description")
	if desc == "" {
		desc = longestText(i.parser, doc, 1, "p")
	}
	setIf(rec, models.FieldDescription, desc)

	amenities := i.parser.AllTexts(doc, ".vx-highlight-item .amenity-title")
	amenities = append(amenities, i.parser.AllTexts(doc, ".cmp-amenity-list__item .cmp-image__title")...)
	amenities = append(amenities, i.parser.AllTexts(doc, ".amenities-list li")...)
	if amenities = dedupe(amenities); len(amenities) > 0 {
		rec[models.FieldAmenities] = amenities
	}

	phone := i.parser.FirstAttr(doc, "href", `a[href^="tel:"]`)
	phone = strings.TrimPrefix(phone, "tel:")
	if phone == "" {
		phone = i.parser.ExtractPhone(doc.Text())
	}
	setIf(rec, models.FieldPhone, phone)

	if overview := i.parser.OverviewTable(doc); len(overview) > 0 {
		rec[models.FieldOverviewTable] = overview
	}
	if parking := ihgSectionText(doc, "parking", "valet"); parking != "" {
		rec[models.FieldParking] = map[string]string{"parking_info": parking}
	}
	nearby := keywordLines(i.parser, doc, "nearby", 8)
	nearby = append(nearby, keywordLines(i.parser, doc, "attraction", 8)...)
	if nearby = dedupe(nearby); len(nearby) > 0 {
		rec[models.FieldNearby] = nearby
	}
	airport := keywordLines(i.parser, doc, "airport", 8)
	airport = append(airport, keywordLines(i.parser, doc, "shuttle", 4)...)
	if airport = dedupe(airport); len(airport) > 0 {
		rec[models.FieldAirport] = airport
	}

	pets := keywordLines(i.parser, doc, "pet", 12)
	if policy := ihgSectionText(doc, "pet policy"); policy != "" {
		pets = append([]string{policy}, pets...)
		pets = dedupe(pets)
	}
	if len(pets) > 0 {
		rec[models.FieldPets] = map[string]string{"policy": strings.Join(pets, "\n\n")}
		rec[models.FieldIsPetFriendly] = true
	} else {
		rec[models.FieldIsPetFriendly] = ihgInferPetFriendly(desc, amenities)
	}
	return nil
}

// ihgSectionText returns the longest section-level block mentioning any
// of the keywords.
func ihgSectionText(doc *goquery.Document, keywords ...string) string {
	best := ""
	doc.Find("section, .section, .cmp-accordion__item, .cmp-teaser__description").Each(func(_ int, s *goquery.Selection) {
		t := clean(s.Text())
		if len(t) <= len(best) {
			return
		}
		low := strings.ToLower(t)
		for _, k := range keywords {
			if strings.Contains(low, k) {
				best = t
				return
			}
		}
	})
	return best
}

func ihgInferPetFriendly(description string, amenities []string) bool {
	hay := strings.ToLower(description + " " + strings.Join(amenities, " "))
	for _, phrase := range []string{"pet-friendly", "pet friendly", "pets allowed", "pets welcome", "pet policy"} {
		if strings.Contains(hay, phrase) {
			return true
		}
	}
	return false
}

// ensureList brings the session back to the city page after a detail hop
// or a restart.
func (i *ihg) ensureList(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	cur, err := sess.CurrentURL(ctx)
	if err == nil && i.col.URL == col.URL && strings.HasPrefix(cur, col.URL) {
		return nil
	}
	i.logger.Info("reopening city page", "city", col.Name)
	return i.OpenPage(ctx, sess, col, page)
}

// NextPage always reports done: a city page lists all of its hotels at
// once and has no pagination control.
func (i *ihg) NextPage(_ context.Context, _ crawl.Session) (bool, error) {
	return false, nil
}
