package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/ratelimit"
)

type Options struct {
	Headless       bool
	NavTimeout     time.Duration
	WaitTimeout    time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		NavTimeout:     30 * time.Second,
		WaitTimeout:    15 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/Chicago",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

// Browser drives a Chromium session for the crawl engine. One page is
// kept open per session; Restart tears the whole stack down and brings
// up a fresh one, which also resets whatever state a site accumulated
// against the old fingerprint.
type Browser struct {
	opts   *Options
	logger *slog.Logger
	pace   *ratelimit.AdaptiveRateLimiter
	bucket *ratelimit.TokenBucketRateLimiter

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

var _ crawl.Session = (*Browser)(nil)

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{
		opts:   opts,
		logger: logger.With("component", "browser"),
		pace:   ratelimit.NewAdaptiveRateLimiter(1*time.Second, 3*time.Second),
		bucket: ratelimit.NewTokenBucketRateLimiter(5, 2*time.Second),
	}
	if err := b.launch(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &b.opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--start-maximized",
			"--user-agent=" + b.opts.UserAgent,
		},
	}
	if b.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: b.opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: b.opts.ExtraHeaders,
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to open page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.NavTimeout.Milliseconds()))

	b.pw = pw
	b.browser = browser
	b.context = browserCtx
	b.page = page
	return nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// Navigate loads url with paced timing: a token bucket caps navigation
// bursts and the adaptive limiter sets the gap between loads. Timeouts
// and challenge pages come back as session failures so the supervisor
// knows to restart the session.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := b.bucket.Wait(ctx); err != nil {
		return err
	}
	if err := b.pace.Wait(ctx); err != nil {
		return err
	}

	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.opts.NavTimeout.Milliseconds())),
	})
	if err != nil {
		b.pace.RecordError()
		return crawl.NewSessionError("navigate", err)
	}

	if err := b.passChallenge(); err != nil {
		b.pace.RecordError()
		return err
	}
	b.pace.RecordSuccess()
	return nil
}

func (b *Browser) Find(ctx context.Context, selector string) ([]crawl.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locator := b.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		return nil, crawl.NewSessionError("find", err)
	}
	elements := make([]crawl.Element, 0, count)
	for i := 0; i < count; i++ {
		elements = append(elements, &element{loc: locator.Nth(i)})
	}
	return elements, nil
}

func (b *Browser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (crawl.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = b.opts.WaitTimeout
	}
	locator := b.page.Locator(selector).First()
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return &element{loc: locator}, nil
}

func (b *Browser) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

func (b *Browser) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.page.Keyboard().Press(key)
}

func (b *Browser) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.page.Evaluate(script)
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.page.URL(), nil
}

func (b *Browser) Loaded(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	state, err := b.page.Evaluate(`document.readyState`)
	if err != nil {
		return false
	}
	s, ok := state.(string)
	return ok && (s == "complete" || s == "interactive")
}

// Restart replaces the whole browser stack. Element handles from before
// the restart are dead afterwards.
func (b *Browser) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Info("restarting browser session")
	if err := b.Close(); err != nil {
		b.logger.Warn("closing old session", "error", err)
	}
	b.pw = nil
	b.browser = nil
	b.context = nil
	b.page = nil
	return b.launch()
}

// Humanize performs a few low-stakes gestures so the session does not
// interact at machine cadence right after a page load.
func (b *Browser) Humanize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		b.page.Mouse().Move(float64(120+i*240), float64(140+i*160))
		time.Sleep(time.Duration(150+i*90) * time.Millisecond)
	}
	b.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
	time.Sleep(500 * time.Millisecond)
	return nil
}

var challengeButtonSelectors = []string{
	`button:has-text("Continue")`,
	`button:has-text("I am human")`,
	`#challenge-form button`,
	`input[type="submit"]`,
}

// passChallenge looks for an automation interstitial and tries to click
// through it. A challenge that will not clear is a session failure.
func (b *Browser) passChallenge() error {
	time.Sleep(2 * time.Second)

	title, err := b.page.Title()
	if err != nil {
		return crawl.NewSessionError("read title", err)
	}
	content, err := b.page.Content()
	if err != nil {
		return crawl.NewSessionError("read page", err)
	}
	if !looksLikeChallenge(title, content) {
		return nil
	}

	b.logger.Warn("automation challenge detected", "title", title)
	for _, selector := range challengeButtonSelectors {
		button := b.page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			b.logger.Debug("challenge button click failed", "selector", selector, "error", err)
			continue
		}
		time.Sleep(3 * time.Second)

		newTitle, _ := b.page.Title()
		newContent, _ := b.page.Content()
		if !looksLikeChallenge(newTitle, newContent) {
			b.logger.Info("automation challenge cleared", "selector", selector)
			return nil
		}
	}
	return crawl.NewSessionError("navigate", crawl.ErrAutomationBlock)
}

var challengeMarkers = []string{
	"pardon our interruption",
	"access denied",
	"request unsuccessful",
	"verify you are a human",
	"are you a robot",
	"unusual activity",
	"captcha",
}

func looksLikeChallenge(title, content string) bool {
	title = strings.ToLower(title)
	content = strings.ToLower(content)
	for _, marker := range challengeMarkers {
		if strings.Contains(title, marker) || strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
