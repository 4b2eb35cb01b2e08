package models

import "fmt"

// CrawlPosition is "where we are" in a crawl: which collection, which page of
// it, and how many items of that page are already done. ItemIndex is a skip
// count relative to the (CollectionIndex, Page) pair it was recorded with, not
// a stable identity; listings may reorder across reloads.
type CrawlPosition struct {
	CollectionIndex int `json:"collection_index"`
	Page            int `json:"page"`
	ItemIndex       int `json:"item_index"`
}

// ZeroPosition is the start of a crawl. Pages are 1-based.
func ZeroPosition() CrawlPosition {
	return CrawlPosition{CollectionIndex: 0, Page: 1, ItemIndex: 0}
}

func (p CrawlPosition) IsZero() bool {
	return p == ZeroPosition()
}

// Normalize clamps the page to its 1-based floor and negative indexes to zero.
func (p CrawlPosition) Normalize() CrawlPosition {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.CollectionIndex < 0 {
		p.CollectionIndex = 0
	}
	if p.ItemIndex < 0 {
		p.ItemIndex = 0
	}
	return p
}

func (p CrawlPosition) String() string {
	return fmt.Sprintf("collection=%d page=%d item=%d", p.CollectionIndex, p.Page, p.ItemIndex)
}
