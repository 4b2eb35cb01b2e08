package brands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petstay/hotel-scraper/internal/models"
)

func TestNamesAreSortedAndComplete(t *testing.T) {
	assert.Equal(t, []string{"hilton", "hyatt", "ihg", "marriott"}, Names())
}

func TestNewBuildsEveryRegisteredBrand(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			src, err := New(name, Options{DataDir: t.TempDir()})
			require.NoError(t, err)
			assert.Equal(t, name, src.Brand())

			cols := src.Columns()
			require.NotEmpty(t, cols)
			assert.Equal(t, models.FieldHotelCode, cols[0])
			assert.Contains(t, cols, models.FieldLastUpdated)
		})
	}
}

func TestNewNormalizesCaseAndRejectsUnknown(t *testing.T) {
	src, err := New("Hilton", Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "hilton", src.Brand())

	_, err = New("ritz", Options{})
	assert.ErrorIs(t, err, ErrUnknownBrand)
}

func TestPathsFor(t *testing.T) {
	p, err := PathsFor("hilton", "/data")
	require.NoError(t, err)
	assert.Equal(t, "/data/hilton_pet_friendly_hotels.json", p.OutputJSON)
	assert.Equal(t, "/data/hilton_pet_friendly_hotels.csv", p.OutputCSV)
	assert.Equal(t, "/data/hilton_last_state.json", p.Checkpoint)
	assert.Equal(t, "/data/hilton_locations.json", p.SeedFile)

	p, err = PathsFor("hyatt", "/data")
	require.NoError(t, err)
	assert.Empty(t, p.SeedFile, "hyatt needs no seed file")

	_, err = PathsFor("ritz", "/data")
	assert.ErrorIs(t, err, ErrUnknownBrand)
}

func TestSameSite(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same host", "https://www.hilton.com/en/search?x=1", "https://www.hilton.com/en/locations/texas/", true},
		{"www stripped", "https://hilton.com/en/", "https://www.hilton.com/", true},
		{"different hosts", "https://www.hilton.com/", "https://www.marriott.com/", false},
		{"fresh session blank page", "about:blank", "https://www.hilton.com/", false},
		{"empty", "", "https://www.hilton.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameSite(tt.a, tt.b))
		})
	}
}

func TestAbsolutize(t *testing.T) {
	base := "https://www.hyatt.com/landing/promo/pet-friendly-hotels-at-hyatt"
	assert.Equal(t, "https://www.hyatt.com/hotels/grand-hyatt-austin", absolutize(base, "/hotels/grand-hyatt-austin"))
	assert.Equal(t, "https://other.example/x", absolutize(base, "https://other.example/x"))
	assert.Empty(t, absolutize(base, ""))
}

func TestFilterKeys(t *testing.T) {
	table := map[string]string{
		"Pet Policy":   "Dogs welcome",
		"Pet Fee":      "$75",
		"Self Parking": "$20 daily",
		"Check-in":     "3 PM",
	}
	pets := filterKeys(table, "pet")
	assert.Len(t, pets, 2)
	assert.Equal(t, "Dogs welcome", pets["Pet Policy"])

	parking := filterKeys(table, "park")
	assert.Len(t, parking, 1)
	assert.Empty(t, filterKeys(table, "pool"))
}

func TestJoinPartsSkipsBlanks(t *testing.T) {
	assert.Equal(t, "500 Congress Ave, Austin", joinParts(", ", "500 Congress Ave", "  ", "", "Austin"))
	assert.Empty(t, joinParts(", ", "", "  "))
}

func TestDedupeKeepsFirstSeenOrder(t *testing.T) {
	assert.Equal(t, []string{"Pool", "WiFi", "Gym"}, dedupe([]string{"Pool", "WiFi", "Pool", "", "Gym", "WiFi"}))
	assert.Nil(t, dedupe(nil))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Grand Hyatt Austin", clean("  Grand \n\t Hyatt   Austin "))
}
