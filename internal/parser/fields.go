package parser

import (
	"strings"
)

// ExtractPhone pulls the first phone-shaped run out of text. Returns ""
// when the match has fewer than seven digits.
func (p *HotelCardParser) ExtractPhone(text string) string {
	phone := strings.TrimSpace(p.phonePattern.FindString(text))
	if phone == "" {
		return ""
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 {
		return ""
	}
	return phone
}

// ExtractRating normalizes a rating blurb such as "4.5/5", "Rated 4,2 out
// of 5" or "4.0 stars" to a bare decimal string.
func (p *HotelCardParser) ExtractRating(text string) string {
	for _, pattern := range p.ratingPatterns {
		matches := pattern.FindStringSubmatch(text)
		if len(matches) > 1 {
			return strings.Replace(matches[1], ",", ".", 1)
		}
	}
	return ""
}

// ExtractPrice pulls the leading nightly price out of a card's price
// blurb, keeping the currency marker: "From $189/night" becomes "$189".
func (p *HotelCardParser) ExtractPrice(text string) string {
	for _, pattern := range p.pricePatterns {
		matches := pattern.FindStringSubmatch(text)
		if len(matches) > 1 {
			price := strings.ReplaceAll(matches[1], " ", "")
			if len(matches) > 2 && matches[2] != "" {
				price = price + " " + matches[2]
			}
			return price
		}
	}
	return ""
}

// ParseLocality splits a display address such as
// "Austin, Texas, United States" into city, state and country. Two-part
// addresses resolve the second part as a state when it looks like one and
// as a country otherwise.
func ParseLocality(text string) (city, state, country string) {
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) == 0 || parts[0] == "":
		return "", "", ""
	case len(parts) == 1:
		return parts[0], "", ""
	case len(parts) == 2:
		if looksLikeState(parts[1]) {
			return parts[0], parts[1], ""
		}
		return parts[0], "", parts[1]
	default:
		return parts[0], parts[1], parts[len(parts)-1]
	}
}

func looksLikeState(s string) bool {
	if len(s) == 2 && s == strings.ToUpper(s) {
		return true
	}
	states := map[string]bool{
		"alabama": true, "alaska": true, "arizona": true, "arkansas": true,
		"california": true, "colorado": true, "connecticut": true, "delaware": true,
		"florida": true, "georgia": true, "hawaii": true, "idaho": true,
		"illinois": true, "indiana": true, "iowa": true, "kansas": true,
		"kentucky": true, "louisiana": true, "maine": true, "maryland": true,
		"massachusetts": true, "michigan": true, "minnesota": true, "mississippi": true,
		"missouri": true, "montana": true, "nebraska": true, "nevada": true,
		"new hampshire": true, "new jersey": true, "new mexico": true, "new york": true,
		"north carolina": true, "north dakota": true, "ohio": true, "oklahoma": true,
		"oregon": true, "pennsylvania": true, "rhode island": true, "south carolina": true,
		"south dakota": true, "tennessee": true, "texas": true, "utah": true,
		"vermont": true, "virginia": true, "washington": true, "west virginia": true,
		"wisconsin": true, "wyoming": true,
	}
	return states[strings.ToLower(s)]
}

// ParseAddress reads city, state and country off the tail of a full
// postal address such as "123 Main St, Austin, TX, United States". The
// country is the last part and the state the one before it; parts carrying
// digits (postcodes, street numbers) shift the read one slot earlier.
func ParseAddress(text string) (city, state, country string) {
	var parts []string
	for _, p := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '|' || r == '\n'
	}) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	n := len(parts)
	if n == 0 {
		return "", "", ""
	}
	country = parts[n-1]
	if n >= 2 {
		state = parts[n-2]
		if hasDigit(state) && n >= 3 {
			state = parts[n-3]
		}
	}
	if n >= 3 {
		city = parts[n-3]
		if hasDigit(city) && n >= 4 {
			city = parts[n-4]
		}
	}
	return city, state, country
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// SlugToken returns the first hyphen-separated token of a URL slug in
// lower case: "grand-hyatt-austin" becomes "grand".
func SlugToken(slug string) string {
	slug = strings.Trim(slug, "/")
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}
	if i := strings.Index(slug, "-"); i >= 0 {
		slug = slug[:i]
	}
	return strings.ToLower(slug)
}

// PathSegment returns the n-th path segment of a URL, counted from the
// end with n=1 meaning the last segment. Query strings are dropped.
func PathSegment(url string, fromEnd int) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = strings.Trim(url, "/")
	segments := strings.Split(url, "/")
	idx := len(segments) - fromEnd
	if idx < 0 || idx >= len(segments) {
		return ""
	}
	return segments[idx]
}
