package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/petstay/hotel-scraper/internal/crawl"
)

// element wraps a playwright locator as a crawl.Element. Locators resolve
// lazily, so a handle survives DOM churn as long as its selector still
// matches.
type element struct {
	loc playwright.Locator
}

var _ crawl.Element = (*element)(nil)

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.loc.Click(); err != nil {
		return fmt.Errorf("clicking element: %w", err)
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.loc.TextContent()
	if err != nil {
		return "", fmt.Errorf("reading element text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := e.loc.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("reading attribute %q: %w", name, err)
	}
	return strings.TrimSpace(val), nil
}

func (e *element) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := e.loc.Evaluate("el => el.outerHTML", nil)
	if err != nil {
		return "", fmt.Errorf("reading element HTML: %w", err)
	}
	html, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unexpected outerHTML result %T", raw)
	}
	return html, nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.ScrollIntoViewIfNeeded()
}
