package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HotelCardParser extracts hotel fields from result cards and detail
// popups. Selector strategies are tried in order and the first one that
// yields text wins, so brand adapters can stack a precise selector in
// front of looser fallbacks.
type HotelCardParser struct {
	phonePattern   *regexp.Regexp
	ratingPatterns []*regexp.Regexp
	pricePatterns  []*regexp.Regexp
	spacePattern   *regexp.Regexp
}

func NewHotelCardParser() *HotelCardParser {
	return &HotelCardParser{
		phonePattern: regexp.MustCompile(`[+(]?\d[\d\s().\-]{6,}\d`),
		ratingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(\d(?:[.,]\d)?)\s*(?:/|out of)\s*5`),
			regexp.MustCompile(`(?i)(\d(?:[.,]\d)?)\s*star`),
			regexp.MustCompile(`(?i)rated\s*(\d(?:[.,]\d)?)`),
			regexp.MustCompile(`^\s*(\d(?:[.,]\d)?)\s*$`),
		},
		pricePatterns: []*regexp.Regexp{
			regexp.MustCompile(`([$€£]\s?\d[\d,]*(?:\.\d{2})?)`),
			regexp.MustCompile(`(\d[\d,]*(?:\.\d{2})?)\s*(USD|EUR|GBP)`),
		},
		spacePattern: regexp.MustCompile(`\s+`),
	}
}

// Document parses an HTML fragment, typically one card's outer HTML.
func (p *HotelCardParser) Document(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing card HTML: %w", err)
	}
	return doc, nil
}

// FirstText returns the trimmed text of the first selector that matches a
// non-empty node.
func (p *HotelCardParser) FirstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		text := p.collapse(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// FirstAttr returns the named attribute from the first selector that
// carries it.
func (p *HotelCardParser) FirstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, selector := range selectors {
		if val, ok := doc.Find(selector).First().Attr(attr); ok {
			if val = strings.TrimSpace(val); val != "" {
				return val
			}
		}
	}
	return ""
}

// AllTexts returns the trimmed text of every node matching selector,
// dropping empties. Used for amenity lists.
func (p *HotelCardParser) AllTexts(doc *goquery.Document, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := p.collapse(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// Section gathers the text under the first matching selector as one
// whitespace-collapsed paragraph. Used for pets, parking and nearby
// policy blurbs.
func (p *HotelCardParser) Section(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		text := p.collapse(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// OverviewTable reads label/value rows from a detail popup. Both
// table rows (th/td) and definition lists (dt/dd) are understood. Labels
// keep their original casing.
func (p *HotelCardParser) OverviewTable(doc *goquery.Document) map[string]string {
	table := map[string]string{}
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		label := p.collapse(row.Find("th").First().Text())
		value := p.collapse(row.Find("td").First().Text())
		if label == "" {
			cells := row.Find("td")
			if cells.Length() >= 2 {
				label = p.collapse(cells.Eq(0).Text())
				value = p.collapse(cells.Eq(1).Text())
			}
		}
		if label != "" && value != "" {
			table[label] = value
		}
	})
	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		terms := dl.Find("dt")
		defs := dl.Find("dd")
		for i := 0; i < terms.Length() && i < defs.Length(); i++ {
			label := p.collapse(terms.Eq(i).Text())
			value := p.collapse(defs.Eq(i).Text())
			if label != "" && value != "" {
				table[label] = value
			}
		}
	})
	return table
}

func (p *HotelCardParser) collapse(s string) string {
	return strings.TrimSpace(p.spacePattern.ReplaceAllString(s, " "))
}
