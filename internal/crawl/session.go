package crawl

import (
	"context"
	"time"
)

// Element is a handle to a single node on the current page. Handles become
// stale after navigation or a session restart, so callers re-find rather
// than caching them across pages.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	HTML(ctx context.Context) (string, error)
	ScrollIntoView(ctx context.Context) error
}

// Session is the browser capability surface the crawl engine drives.
// The production implementation lives in internal/browser; tests swap in
// a scripted fake.
type Session interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// Find returns every element matching selector, in document order.
	// An empty result is not an error.
	Find(ctx context.Context, selector string) ([]Element, error)

	// WaitVisible blocks until selector is visible or timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error)

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Press sends a keyboard key, such as "Escape", to the page.
	Press(ctx context.Context, key string) error

	// Evaluate runs a script in the page and returns its result.
	Evaluate(ctx context.Context, script string) (any, error)

	// CurrentURL reports the address of the current page.
	CurrentURL(ctx context.Context) (string, error)

	// Loaded reports whether the page reached a usable ready state.
	Loaded(ctx context.Context) bool

	// Humanize performs a few idle gestures after a page load so the
	// session does not interact at machine cadence.
	Humanize(ctx context.Context) error

	// Restart tears the session down and brings up a fresh one. Element
	// handles from before the restart are invalid afterwards.
	Restart(ctx context.Context) error
}

// Restarter is the slice of Session the supervisor needs to recover from
// session-level failures.
type Restarter interface {
	Restart(ctx context.Context) error
}
