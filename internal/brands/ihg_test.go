package brands

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/models"
)

const ihgCardFixture = `
<li>
	<a class="cmp-card__title-link" href="/holidayinn/hotels/us/en/austin/ausdt/hoteldetail">Holiday Inn Austin Downtown</a>
	<address>123 Main St, Austin, TX, United States</address>
	<div class="cmp-amenity-list">
		<div class="cmp-amenity-list__item"><span class="cmp-image__title">Pool</span></div>
		<div class="cmp-amenity-list__item"><span class="cmp-image__title">Pet Friendly</span></div>
		<div class="cmp-amenity-list__item"><span class="cmp-image__title">Pool</span></div>
	</div>
	<span class="cmp-card__hotel-price-value">129</span>
	<span class="cmp-card__hotel-price-currency">USD</span>
	<div class="cmp-card__guest-reviews"><span class="cmp-card__rating-count">4.3</span></div>
</li>`

const ihgDetailFixture = `
<html><body>
<div class="hotel-description">Rising over the Colorado River in the middle of downtown Austin, the hotel puts guests within walking distance of the Sixth Street entertainment district, the convention center and the state capitol building.</div>
<p>Short paragraph.</p>
<div class="vx-highlight-item"><span class="amenity-title">Outdoor pool</span></div>
<div class="cmp-amenity-list__item"><span class="cmp-image__title">Fitness center</span></div>
<ul class="amenities-list"><li>Outdoor pool</li></ul>
<a href="tel:+15125550188">Call</a>
<table><tr><th>Check-in</th><td>3:00 PM</td></tr></table>
<section><h2>Parking</h2><p>Valet service is offered for 45 USD per night.</p></section>
<section><h2>Pet Policy</h2><p>Pets are welcome with a 75 USD fee per stay.</p></section>
<p>The hotel is nearby the convention center.</p>
<p>Airport shuttle runs every 30 minutes.</p>
</body></html>`

func newTestIHG(t *testing.T) *ihg {
	t.Helper()
	src, err := New("ihg", Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	return src.(*ihg)
}

func TestIHGHotelCode(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.ihg.com/holidayinn/hotels/us/en/austin/ausdt/hoteldetail", "ausdt"},
		{"https://www.ihg.com/holidayinn/hotels/us/en/austin/AUSDT/hoteldetail", "ausdt"},
		{"https://www.ihg.com/holidayinn/hotels/us/en/austin/ausdt/hoteldetail/amenities", "ausdt"},
		// A five letter city name wins over a code further down the path.
		{"https://www.ihg.com/hotels/us/en/miami/miafc/hoteldetail", "miami"},
		{"https://www.ihg.com/hotels/us/en/reservation/hoteldetail", "reservation"},
		{"https://www.ihg.com", ""},
		{"", ""},
		{":", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ihgHotelCode(tt.url))
		})
	}
}

func TestIHGParseCard(t *testing.T) {
	i := newTestIHG(t)
	col := crawl.Collection{Name: "Austin", URL: "https://www.ihg.com/destinations/us/en/austin-hotels"}

	rec, detailURL, err := i.parseCard(ihgCardFixture, col, models.CrawlPosition{Page: 1, ItemIndex: 0})
	require.NoError(t, err)

	assert.Equal(t, "https://www.ihg.com/holidayinn/hotels/us/en/austin/ausdt/hoteldetail", detailURL)
	assert.Equal(t, "ausdt", rec[models.FieldHotelCode])
	assert.Equal(t, "Holiday Inn Austin Downtown", rec[models.FieldHotelName])
	assert.Equal(t, "123 Main St, Austin, TX, United States", rec[models.FieldAddress])
	assert.Equal(t, "Austin", rec[models.FieldCity])
	assert.Equal(t, "TX", rec[models.FieldState])
	assert.Equal(t, "United States", rec[models.FieldCountry])
	assert.Equal(t, []string{"Pool", "Pet Friendly"}, rec[models.FieldAmenities])
	assert.Equal(t, "129 USD", rec[models.FieldCardPrice])
	assert.Equal(t, "4.3", rec[models.FieldRating])
	assert.Equal(t, detailURL, rec[models.FieldPropertyURL])
}

func TestIHGParseCardAddressFallback(t *testing.T) {
	i := newTestIHG(t)
	col := crawl.Collection{Name: "Boise", URL: "https://www.ihg.com/destinations/us/en/boise-hotels"}
	card := `<li>
		<a class="cmp-card__title-link" href="/candlewood/hotels/us/en/meridian/boidt/hoteldetail">Candlewood Suites Boise</a>
		<p>99 River Rd, Boise, Idaho, United States</p>
	</li>`

	rec, _, err := i.parseCard(card, col, models.CrawlPosition{Page: 1, ItemIndex: 1})
	require.NoError(t, err)

	assert.Equal(t, "boidt", rec[models.FieldHotelCode])
	assert.Equal(t, "99 River Rd, Boise, Idaho, United States", rec[models.FieldAddress])
	assert.Equal(t, "Boise", rec[models.FieldCity])
	assert.Equal(t, "Idaho", rec[models.FieldState])
}

func TestIHGParseCardWithoutLink(t *testing.T) {
	i := newTestIHG(t)
	col := crawl.Collection{Name: "Austin", URL: "https://www.ihg.com/destinations/us/en/austin-hotels"}

	rec, detailURL, err := i.parseCard(`<li><div class="cmp-card__title">Unlinked card</div></li>`, col, models.CrawlPosition{Page: 1, ItemIndex: 2})
	require.NoError(t, err)

	assert.Empty(t, detailURL)
	assert.Equal(t, "UNKNOWN", rec[models.FieldHotelName])
	assert.Equal(t, "ihg-1-3", rec[models.FieldHotelCode])
	assert.Equal(t, "Austin", rec[models.FieldCity])
	assert.NotContains(t, rec, models.FieldAddress)
}

func TestIHGParseDetail(t *testing.T) {
	i := newTestIHG(t)
	rec := models.NewRecord("ausdt", "Holiday Inn Austin Downtown")

	require.NoError(t, i.parseDetail(ihgDetailFixture, rec))

	assert.Contains(t, rec[models.FieldDescription], "Colorado River")
	assert.Equal(t, []string{"Outdoor pool", "Fitness center"}, rec[models.FieldAmenities])
	assert.Equal(t, "+15125550188", rec[models.FieldPhone])
	assert.Equal(t, map[string]string{"Check-in": "3:00 PM"}, rec[models.FieldOverviewTable])

	parking := rec[models.FieldParking].(map[string]string)
	assert.Contains(t, parking["parking_info"], "Valet service")

	assert.Equal(t, []string{"The hotel is nearby the convention center."}, rec[models.FieldNearby])
	assert.Equal(t, []string{"Airport shuttle runs every 30 minutes."}, rec[models.FieldAirport])

	pets := rec[models.FieldPets].(map[string]string)
	assert.Contains(t, pets["policy"], "Pet Policy")
	assert.Contains(t, pets["policy"], "75 USD")
	assert.Equal(t, true, rec[models.FieldIsPetFriendly])
}

func TestIHGInferPetFriendly(t *testing.T) {
	tests := []struct {
		desc      string
		amenities []string
		want      bool
	}{
		{"This pet-friendly hotel sits on the river.", nil, true},
		{"", []string{"Pet Friendly"}, true},
		{"Pets welcome in all rooms.", nil, true},
		{"Business hotel downtown.", []string{"Pool"}, false},
	}
	for n, tt := range tests {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			assert.Equal(t, tt.want, ihgInferPetFriendly(tt.desc, tt.amenities))
		})
	}
}

func TestIHGDestinationURL(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"https://www.ihg.com/destinations/us/en/austin-hotels", true},
		{"https://www.ihg.com/explore/pet-friendly-hotels", true},
		{"https://www.ihg.com/content/us/en/support", false},
		{"https://www.facebook.com/ihg", false},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, ihgDestinationURL(tt.href))
		})
	}
}
