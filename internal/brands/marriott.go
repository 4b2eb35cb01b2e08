package brands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/parser"
	"github.com/petstay/hotel-scraper/internal/seeds"
)

// Marriott's search results virtualize: the grid only renders cards near
// the viewport and a page claims "N Results" before most of them exist in
// the DOM, so every page open scrolls until the card count reaches the
// claimed total or stops growing. Details live in an in-page modal split
// into hqv-* sections. Collections come from the property directory
// accordion, one per region.
const (
	marriottStart = "https://www.marriott.com/hotel-search.mi?filtersApplied=true&amenities=pet-friendly#/2/"
	marriottBase  = "https://www.marriott.com"

	marriottCard          = `.details-container`
	marriottModalSections = `#hqv-hotel-info-section, #hqv-amenities-section, #hqv-location-section`
	marriottModalClose    = `button[aria-label="Close"], .modal-close, .icon-close`
	marriottNext          = `a[aria-label="NextPage"]`
	marriottSummary       = `.results-summary, .hotel-content`
	marriottRegionHeading = `button.accordion__heading`
	marriottRegionLink    = `a.region-item-link`

	marriottStableRounds = 6
	marriottLoadBudget   = 90 * time.Second
)

var marriottResultsPattern = regexp.MustCompile(`(?i)(\d+)\s+Results`)

type marriott struct {
	opts   Options
	paths  Paths
	parser *parser.HotelCardParser
	logger *slog.Logger

	col  crawl.Collection
	page int
}

func newMarriott(opts Options) crawl.Source {
	return &marriott{
		opts:   opts,
		paths:  layoutFor("marriott", opts.DataDir),
		parser: parser.NewHotelCardParser(),
		logger: opts.Logger.With("component", "brand", "brand", "marriott"),
	}
}

func (m *marriott) Brand() string { return "marriott" }

func (m *marriott) Columns() []string {
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
		models.FieldPropertyURL,
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

// Collections loads the region list from disk, harvesting the property
// directory accordion when the file is missing.
func (m *marriott) Collections(ctx context.Context, sess crawl.Session) ([]crawl.Collection, error) {
	list, err := m.opts.Seeds.LoadFile(m.paths.SeedFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("marriott regions: %w", err)
	}
	if len(list) == 0 {
		if list, err = m.discoverRegions(ctx, sess); err != nil {
			return nil, err
		}
		if err := seeds.WriteJSON(m.paths.SeedFile, list); err != nil {
			m.logger.Warn("could not persist region list", "path", m.paths.SeedFile, "error", err)
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
		return nil, fmt.Errorf("no region pages found")
	}
	return cols, nil
}

func (m *marriott) discoverRegions(ctx context.Context, sess crawl.Session) ([]seeds.Seed, error) {
	m.logger.Info("region list missing, harvesting property directory")
	if err := sess.Navigate(ctx, marriottStart); err != nil {
		return nil, err
	}
	if _, err := sess.WaitVisible(ctx, marriottRegionHeading, 30*time.Second); err != nil {
		return nil, fmt.Errorf("property directory not found: %w", err)
	}
	headings, err := sess.Find(ctx, marriottRegionHeading)
	if err != nil {
		return nil, err
	}
	for n := range headings {
		if err := clickNth(ctx, sess, marriottRegionHeading, n); err != nil {
			m.logger.Debug("country accordion stayed closed", "index", n, "error", err)
			continue
		}
		sleepCtx(ctx, 400*time.Millisecond)
	}
	html, err := pageHTML(ctx, sess)
	if err != nil {
		return nil, err
	}
	doc, err := m.parser.Document(html)
	if err != nil {
		return nil, err
	}
	list := marriottParseRegions(doc, marriottStart)
	if len(list) == 0 {
		return nil, fmt.Errorf("property directory listed no regions")
	}
	return list, nil
}

// marriottParseRegions walks the expanded accordion: each country heading
// owns a body block whose id mirrors the heading id, and the body carries
// one link per region.
func marriottParseRegions(doc *goquery.Document, base string) []seeds.Seed {
	var list []seeds.Seed
	seen := map[string]bool{}
	doc.Find(marriottRegionHeading).Each(func(_ int, btn *goquery.Selection) {
		country := strings.TrimSpace(btn.AttrOr("aria-label", ""))
		if country == "" {
			country = clean(btn.Text())
		}
		id := btn.AttrOr("id", "")
		if id == "" {
			return
		}
		body := doc.Find("#" + strings.Replace(id, "_heading", "_body", 1))
		body.Find(marriottRegionLink).Each(func(_ int, a *goquery.Selection) {
			href := absolutize(base, strings.TrimSpace(a.AttrOr("href", "")))
			if href == "" || seen[href] {
				return
			}
			seen[href] = true
			list = append(list, seeds.Seed{
				Name: joinParts(" / ", country, clean(a.Text())),
				URL:  href,
			})
		})
	})
	return list
}

func (m *marriott) OpenPage(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	m.col, m.page = col, 0
	if err := sess.Navigate(ctx, col.URL); err != nil {
		return err
	}
	sess.Humanize(ctx)
	sleepCtx(ctx, 3*time.Second)
	for p := 1; p < page; p++ {
		if ok, err := m.clickNext(ctx, sess); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("pagination ended at page %d while forwarding to %d", p, page)
		}
	}
	m.page = page
	_, err := m.loadAllCards(ctx, sess)
	return err
}

// loadAllCards scrolls the virtualized grid until every card is rendered:
// it chases the summary's claimed total when one is shown, otherwise it
// stops once the count holds still for several rounds. Occasional upward
// oscillation forces the virtualizer to materialize the next chunk.
func (m *marriott) loadAllCards(ctx context.Context, sess crawl.Session) (int, error) {
	deadline := time.Now().Add(marriottLoadBudget)
	target := m.resultsTarget(ctx, sess)
	last, stable, round := -1, 0, 0
	for time.Now().Before(deadline) && ctx.Err() == nil {
		sess.Evaluate(ctx, "window.scrollTo(0, document.body.scrollHeight)")
		sleepCtx(ctx, 800*time.Millisecond)
		round++
		if round%3 == 0 {
			sess.Evaluate(ctx, "window.scrollTo(0, Math.max(window.pageYOffset - 400, 0))")
			sleepCtx(ctx, 250*time.Millisecond)
			sess.Evaluate(ctx, "window.scrollTo(0, document.body.scrollHeight)")
			sleepCtx(ctx, 500*time.Millisecond)
		}
		count, err := m.cardCount(ctx, sess)
		if err != nil {
			return 0, err
		}
		if target > 0 && count >= target {
			return count, nil
		}
		if count == last {
			stable++
		} else {
			stable = 0
		}
		if stable >= marriottStableRounds {
			if target > 0 && count < target {
				m.logger.Warn("grid stopped short of claimed total", "rendered", count, "claimed", target)
			}
			return count, nil
		}
		last = count
	}
	return m.cardCount(ctx, sess)
}

func (m *marriott) resultsTarget(ctx context.Context, sess crawl.Session) int {
	els, err := sess.Find(ctx, marriottSummary)
	if err != nil || len(els) == 0 {
		return 0
	}
	text, err := els[0].Text(ctx)
	if err != nil {
		return 0
	}
	return marriottResultsTarget(text)
}

// marriottResultsTarget parses the claimed total out of a results summary
// such as "1 - 28 of 412 Results".
func marriottResultsTarget(text string) int {
	match := marriottResultsPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

func (m *marriott) cardCount(ctx context.Context, sess crawl.Session) (int, error) {
	cards, err := sess.Find(ctx, marriottCard)
	if err != nil {
		return 0, err
	}
	return len(cards), nil
}

func (m *marriott) Items(ctx context.Context, sess crawl.Session) (int, error) {
	return m.cardCount(ctx, sess)
}

func (m *marriott) ScrapeItem(ctx context.Context, sess crawl.Session, col crawl.Collection, pos models.CrawlPosition) (models.Record, error) {
	if err := m.ensureList(ctx, sess, col, pos.Page); err != nil {
		return nil, err
	}
	if err := m.openCard(ctx, sess, pos.ItemIndex); err != nil {
		return nil, err
	}
	defer m.closeModal(ctx, sess)

	if _, err := sess.WaitVisible(ctx, marriottModalSections, 30*time.Second); err != nil {
		return nil, fmt.Errorf("detail modal: %w", err)
	}
	sleepCtx(ctx, 1800*time.Millisecond)
	m.expandModal(ctx, sess)

	cards, err := sess.Find(ctx, marriottCard)
	if err != nil {
		return nil, err
	}
	cardHTML := ""
	if pos.ItemIndex < len(cards) {
		if cardHTML, err = cards[pos.ItemIndex].HTML(ctx); err != nil {
			return nil, err
		}
	}
	fullHTML, err := pageHTML(ctx, sess)
	if err != nil {
		return nil, err
	}
	return m.parseModal(cardHTML, fullHTML, pos)
}

// openCard scrolls the n-th card into view, lets its hover handlers
// attach, then clicks whichever modal opener the card variant carries.
// Clicking through the DOM directly sidesteps stale handles from the
// re-rendering grid.
func (m *marriott) openCard(ctx context.Context, sess crawl.Session, n int) error {
	script := fmt.Sprintf(`(() => {
		const card = document.querySelectorAll(%q)[%d];
		if (!card) return false;
		card.scrollIntoView({block: "center"});
		return true;
	})()`, marriottCard, n)
	res, err := sess.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("card %d not in grid", n)
	}
	sleepCtx(ctx, 700*time.Millisecond)

	script = fmt.Sprintf(`(() => {
		const card = document.querySelectorAll(%q)[%d];
		if (!card) return false;
		const opener = card.querySelector(".view-hotel-details-section.hqv-modal-opener, .view-hotel-details-section, .title-container.hqv-modal-opener");
		if (!opener) return false;
		opener.click();
		return true;
	})()`, marriottCard, n)
	res, err = sess.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("card %d has no modal opener", n)
	}
	return nil
}

// expandModal opens the folded parts of the modal: the full amenity list
// and the airport accordions under the location section.
func (m *marriott) expandModal(ctx context.Context, sess crawl.Session) {
	if err := sess.Click(ctx, "#hqv-amenities-section .see-amenities-button"); err == nil {
		sleepCtx(ctx, 700*time.Millisecond)
	}
	sess.Evaluate(ctx, `(() => {
		const btns = document.querySelectorAll("#hqv-location-section button.accordion-button[aria-expanded='false']");
		btns.forEach(b => b.click());
		return btns.length;
	})()`)
	sleepCtx(ctx, 500*time.Millisecond)
}

func (m *marriott) closeModal(ctx context.Context, sess crawl.Session) {
	sess.Press(ctx, "Escape")
	sleepCtx(ctx, 400*time.Millisecond)
	if err := sess.Click(ctx, marriottModalClose); err == nil {
		sleepCtx(ctx, 400*time.Millisecond)
	}
	// Grid re-renders after the overlay drops.
	sleepCtx(ctx, 900*time.Millisecond)
}

func (m *marriott) parseModal(cardHTML, fullHTML string, pos models.CrawlPosition) (models.Record, error) {
	pageDoc, err := m.parser.Document(fullHTML)
	if err != nil {
		return nil, err
	}
	cardDoc := pageDoc
	if cardHTML != "" {
		if cardDoc, err = m.parser.Document(cardHTML); err != nil {
			return nil, err
		}
	}

	name := m.parser.FirstText(cardDoc, ".t-subtitle-xl")
	if name == "" {
		name = m.parser.FirstText(pageDoc, `[id^="hqv-"] h1`, `[id^="hqv-"] h2`, "h1")
	}
	if name == "" {
		name = "UNKNOWN"
	}
	rec := models.NewRecord(fmt.Sprintf("MAR-%d-%d", pos.Page, pos.ItemIndex+1), name)

	setIf(rec, models.FieldRating, m.parser.FirstText(cardDoc, ".ratings-value-container .star-number-container"))
	description := m.parser.FirstText(cardDoc, ".description-container span")
	if description == "" {
		description = m.parser.FirstText(pageDoc, ".overview-description")
	}
	setIf(rec, models.FieldDescription, description)
	price := m.parser.FirstText(cardDoc, `[data-testid="rateItem"]`, ".price", ".t-price")
	if norm := m.parser.ExtractPrice(price); norm != "" {
		price = norm
	}
	setIf(rec, models.FieldCardPrice, price)

	line1 := m.parser.FirstText(pageDoc, "#hqv-location-section .hotel-address .hotel-address-line1")
	line2 := m.parser.FirstText(pageDoc, "#hqv-location-section .hotel-address .hotel-address-city-postal")
	setIf(rec, models.FieldAddress, joinParts(" ", line1, line2))
	city, state, country := marriottLocality(line2)
	setIf(rec, models.FieldCity, city)
	setIf(rec, models.FieldState, state)
	setIf(rec, models.FieldCountry, country)
	setIf(rec, models.FieldPhone, m.parser.FirstText(pageDoc, "#hqv-location-section .location-box__contactNumber"))
	setIf(rec, models.FieldPropertyURL, absolutize(marriottBase, m.parser.FirstAttr(pageDoc, "href", "a.title-container__category-box[href]")))

	overview, petsBlob, parking := marriottPropertyInfo(pageDoc)
	if len(overview) > 0 {
		rec[models.FieldOverviewTable] = overview
	}
	if petsBlob != "" {
		rec[models.FieldPets] = map[string]string{"raw": petsBlob}
	}
	if len(parking) > 0 {
		rec[models.FieldParking] = map[string]any{"items": parking}
	}

	amenities := dedupe(m.parser.AllTexts(pageDoc, "#hqv-amenities-section .amenities-content .amenity-list-item .amenity-name"))
	if len(amenities) > 0 {
		rec[models.FieldAmenities] = amenities
	}
	if airports := marriottAirports(pageDoc); len(airports) > 0 {
		rec[models.FieldAirport] = airports
	}
	rec[models.FieldIsPetFriendly] = marriottIsPet(overview, amenities, description, petsBlob)
	return rec, nil
}

// marriottPropertyInfo reads the hotel info section: the check-in/out
// style key facts, the pet policy lines and the parking items. Pet and
// parking summaries also land in the overview map, matching how the
// modal presents them.
func marriottPropertyInfo(doc *goquery.Document) (map[string]any, string, []string) {
	overview := map[string]any{}
	info := doc.Find("#hqv-hotel-info-section")

	info.Find(".information-box .left-col-item .left-col-text").Each(func(_ int, s *goquery.Selection) {
		t := clean(s.Text())
		if t == "" {
			return
		}
		if k, _, found := strings.Cut(t, ":"); found {
			overview[strings.TrimSpace(k)] = t
		} else {
			overview[t] = true
		}
	})

	var petLines []string
	info.Find("div.pet-policy .pet-policy-sub-info").Each(func(_ int, s *goquery.Selection) {
		if t := clean(s.Text()); t != "" {
			petLines = append(petLines, t)
		}
	})
	petsBlob := strings.Join(dedupe(petLines), " | ")
	if petsBlob != "" {
		overview["Pet Policy"] = petsBlob
	}

	var parking []string
	info.Find(".parking .parking-information .parking-item").Each(func(_ int, s *goquery.Selection) {
		if t := clean(s.Text()); t != "" {
			parking = append(parking, t)
		}
	})
	if len(parking) > 0 {
		overview["Parking"] = strings.Join(parking, "; ")
	}
	return overview, petsBlob, parking
}

func marriottAirports(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find("#hqv-location-section .accordion-item").Each(func(_ int, item *goquery.Selection) {
		name := clean(item.Find(".location-box__location-name").First().Text())
		if name == "" {
			return
		}
		var details []string
		item.Find("p, li, span").Each(func(_ int, s *goquery.Selection) {
			t := clean(s.Text())
			if t == "" || t == name || len(details) >= 10 {
				return
			}
			details = append(details, t)
		})
		out = append(out, map[string]any{"airport": name, "details": dedupe(details)})
	})
	return out
}

// marriottLocality splits the city/postal address line, which reads like
// "Agoura Hills, California, USA, 91301".
func marriottLocality(text string) (city, state, country string) {
	var parts []string
	for _, p := range strings.Split(text, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch {
	case len(parts) >= 3:
		return parts[0], parts[1], parts[2]
	case len(parts) == 2:
		return parts[0], parts[1], ""
	case len(parts) == 1:
		return parts[0], "", ""
	}
	return "", "", ""
}

func marriottIsPet(overview map[string]any, amenities []string, description, petsBlob string) bool {
	if petsBlob != "" {
		return true
	}
	if strings.Contains(strings.ToLower(description), "pet friendly") {
		return true
	}
	var sb strings.Builder
	for k, v := range overview {
		sb.WriteString(k)
		sb.WriteString(" ")
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteString(" ")
		}
	}
	sb.WriteString(strings.Join(amenities, " "))
	return strings.Contains(strings.ToLower(sb.String()), "pet")
}

// ensureList reopens the results page when the session wandered off it,
// which happens right after a session restart.
func (m *marriott) ensureList(ctx context.Context, sess crawl.Session, col crawl.Collection, page int) error {
	cur, err := sess.CurrentURL(ctx)
	if err == nil && m.page == page && m.col.URL == col.URL && sameSite(cur, col.URL) {
		return nil
	}
	m.logger.Info("reopening results page", "region", col.Name, "page", page)
	return m.OpenPage(ctx, sess, col, page)
}

func (m *marriott) NextPage(ctx context.Context, sess crawl.Session) (bool, error) {
	ok, err := m.clickNext(ctx, sess)
	if err != nil || !ok {
		return false, err
	}
	m.page++
	if _, err := m.loadAllCards(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

func (m *marriott) clickNext(ctx context.Context, sess crawl.Session) (bool, error) {
	els, err := sess.Find(ctx, marriottNext)
	if err != nil {
		return false, err
	}
	if len(els) == 0 {
		return false, nil
	}
	next := els[0]
	if class, err := next.Attribute(ctx, "class"); err == nil && strings.Contains(class, "disabled") {
		return false, nil
	}
	next.ScrollIntoView(ctx)
	sleepCtx(ctx, 500*time.Millisecond)
	if err := next.Click(ctx); err != nil {
		if crawl.IsSessionFailure(err) {
			return false, err
		}
		m.logger.Info("pagination control refused the click, treating as last page", "error", err)
		return false, nil
	}
	sleepCtx(ctx, 3*time.Second)
	return true, nil
}
