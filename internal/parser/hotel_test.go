package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCard = `
<div class="property-card">
	<h3 class="property-name">Grand Plaza Hotel &amp; Suites</h3>
	<div class="property-address">
		<span class="address-line">500 Congress Ave</span>
		<span class="locality">Austin, Texas, United States</span>
	</div>
	<a class="property-link" href="https://example.com/hotels/grand-plaza-austin">View hotel</a>
	<div class="rating-badge" aria-label="Rated 4.5 out of 5">4.5/5</div>
	<span class="price-lead">From   $189/night</span>
	<ul class="amenity-list">
		<li>Pool</li>
		<li>  Free WiFi </li>
		<li></li>
		<li>Pet friendly</li>
	</ul>
</div>`

func TestFirstTextUsesSelectorOrder(t *testing.T) {
	p := NewHotelCardParser()
	doc, err := p.Document(sampleCard)
	require.NoError(t, err)

	tests := []struct {
		name      string
		selectors []string
		expected  string
	}{
		{
			name:      "first selector wins when present",
			selectors: []string{".property-name", ".property-address"},
			expected:  "Grand Plaza Hotel & Suites",
		},
		{
			name:      "falls through missing selectors",
			selectors: []string{".missing", ".also-missing", ".locality"},
			expected:  "Austin, Texas, United States",
		},
		{
			name:      "empty when nothing matches",
			selectors: []string{".missing"},
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.FirstText(doc, tt.selectors...))
		})
	}
}

func TestFirstAttr(t *testing.T) {
	p := NewHotelCardParser()
	doc, err := p.Document(sampleCard)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/hotels/grand-plaza-austin",
		p.FirstAttr(doc, "href", ".missing", ".property-link"))
	assert.Equal(t, "Rated 4.5 out of 5",
		p.FirstAttr(doc, "aria-label", ".rating-badge"))
	assert.Equal(t, "", p.FirstAttr(doc, "href", ".rating-badge"))
}

func TestAllTextsDropsEmptyEntries(t *testing.T) {
	p := NewHotelCardParser()
	doc, err := p.Document(sampleCard)
	require.NoError(t, err)

	assert.Equal(t, []string{"Pool", "Free WiFi", "Pet friendly"},
		p.AllTexts(doc, ".amenity-list li"))
}

func TestSectionCollapsesWhitespace(t *testing.T) {
	p := NewHotelCardParser()
	doc, err := p.Document(`
		<div class="pet-policy">
			Dogs and cats
			welcome.    Two pets
			per room.
		</div>`)
	require.NoError(t, err)

	assert.Equal(t, "Dogs and cats welcome. Two pets per room.",
		p.Section(doc, ".pet-policy"))
}

func TestOverviewTable(t *testing.T) {
	p := NewHotelCardParser()

	tests := []struct {
		name     string
		html     string
		expected map[string]string
	}{
		{
			name: "table rows with headers",
			html: `<table>
				<tr><th>Check-in</th><td>3:00 PM</td></tr>
				<tr><th>Check-out</th><td>11:00 AM</td></tr>
				<tr><th>Empty</th><td></td></tr>
			</table>`,
			expected: map[string]string{
				"Check-in":  "3:00 PM",
				"Check-out": "11:00 AM",
			},
		},
		{
			name: "table rows with td pairs",
			html: `<table>
				<tr><td>Floors</td><td>12</td></tr>
				<tr><td>Rooms</td><td>248</td></tr>
			</table>`,
			expected: map[string]string{
				"Floors": "12",
				"Rooms":  "248",
			},
		},
		{
			name: "definition list",
			html: `<dl>
				<dt>Pet fee</dt><dd>$75 per stay</dd>
				<dt>Parking</dt><dd>Valet only</dd>
			</dl>`,
			expected: map[string]string{
				"Pet fee": "$75 per stay",
				"Parking": "Valet only",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := p.Document(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.OverviewTable(doc))
		})
	}
}
