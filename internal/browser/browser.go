package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/ratelimit"
	"github.com/playwright-community/playwright-go"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options controls how Chromium is launched and how pages are loaded.
type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	// MaxRetries is the number of navigation attempts per page.
	MaxRetries   int
	Humanize     bool
	ExtraHeaders map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      chromeUA,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-GB,en;q=0.9",
		TimezoneID:     "Europe/London",
		Locale:         "en-GB",
		MaxRetries:     3,
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// OptionsFor returns the default options adjusted to a marketplace locale.
func OptionsFor(loc *locale.Locale) *Options {
	opts := DefaultOptions()
	opts.AcceptLanguage = loc.AcceptLanguage
	opts.TimezoneID = loc.Timezone
	opts.Locale = loc.BrowserLocale
	return opts
}

// Browser renders pages in a headless Chromium and satisfies fetch.Fetcher.
// One browser context is shared by all pages, so cookies set by a
// click-through carry over to later searches.
type Browser struct {
	pw      *playwright.Playwright
	chrome  playwright.Browser
	session playwright.BrowserContext
	opts    Options
	limiter ratelimit.RateLimiter
	logger  *slog.Logger
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Browser{
		opts:    *opts,
		limiter: ratelimit.NewSimpleRateLimiter(2*time.Second, 5*time.Second),
		logger:  logger.With("component", "browser", "locale", opts.Locale),
	}
	if err := b.launch(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch() error {
	var err error
	if b.pw, err = playwright.Run(); err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			fmt.Sprintf("--window-size=%d,%d", b.opts.ViewportWidth, b.opts.ViewportHeight),
		},
	}
	if b.opts.ProxyServer != "" {
		launch.Proxy = &playwright.Proxy{Server: b.opts.ProxyServer}
	}
	if b.chrome, err = b.pw.Chromium.Launch(launch); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := maps.Clone(b.opts.ExtraHeaders)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers["Accept-Language"] = b.opts.AcceptLanguage

	b.session, err = b.chrome.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(b.opts.UserAgent),
		Locale:            playwright.String(b.opts.Locale),
		TimezoneId:        playwright.String(b.opts.TimezoneID),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Viewport:          &playwright.Size{Width: b.opts.ViewportWidth, Height: b.opts.ViewportHeight},
		ExtraHttpHeaders:  headers,
	})
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	return nil
}

// Fetch renders url in a fresh page and returns the final markup.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	page, err := b.session.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	if err := b.load(ctx, page, url); err != nil {
		return "", err
	}

	if b.opts.Humanize {
		if err := humanize(ctx, page); err != nil {
			b.logger.Warn("humanize failed", "error", err)
		}
	}

	markup, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	if blocked, source := fetch.Analyze(markup, fetch.DefaultDetectors()); blocked {
		return "", fmt.Errorf("%w: %s", fetch.ErrBlocked, source)
	}
	return markup, nil
}

// load navigates page to url, clicking through an interstitial if one shows
// up. Navigation errors are retried with a linear pause; a hard block is not.
func (b *Browser) load(ctx context.Context, page playwright.Page, url string) error {
	attempts := max(b.opts.MaxRetries, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			b.logger.Info("retrying navigation", "attempt", attempt, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			lastErr = err
			b.logger.Warn("navigation failed", "attempt", attempt, "error", err)
			continue
		}

		err = b.clickThrough(page)
		if err == nil || errors.Is(err, fetch.ErrBlocked) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("navigation to %s failed after %d attempts: %w", url, attempts, lastErr)
}

var continueButtons = []string{
	`button:has-text("Weiter shoppen")`,
	`button:has-text("Continue shopping")`,
	`input[type="submit"][value*="Weiter"]`,
	`.a-button-primary`,
	`button.a-button-text`,
}

// clickThrough dismisses the "continue shopping" interstitial. Captcha and
// error pages cannot be clicked away and yield fetch.ErrBlocked.
func (b *Browser) clickThrough(page playwright.Page) error {
	markup, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to read page content: %w", err)
	}

	blocked, source := fetch.Analyze(markup, fetch.DefaultDetectors())
	switch {
	case !blocked:
		return nil
	case source != "interstitial":
		return fmt.Errorf("%w: %s", fetch.ErrBlocked, source)
	}

	for _, selector := range continueButtons {
		button := page.Locator(selector).First()
		if n, err := button.Count(); err != nil || n == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			b.logger.Debug("click failed", "selector", selector, "error", err)
			continue
		}
		_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateDomcontentloaded,
		})

		after, _ := page.Content()
		if !IsInterstitial(after) {
			b.logger.Info("clicked through interstitial", "selector", selector)
			return nil
		}
	}

	return fmt.Errorf("%w: interstitial without a usable button", fetch.ErrBlocked)
}

// humanize moves the mouse and scrolls a little so lazy page sections render.
func humanize(ctx context.Context, page playwright.Page) error {
	mouse := page.Mouse()
	for step := range 3 {
		if err := mouse.Move(float64(100+step*200), float64(100+step*150)); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := sleep(ctx, time.Duration(200+step*100)*time.Millisecond); err != nil {
			return err
		}
	}

	if _, err := page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return sleep(ctx, time.Second)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Close shuts down the context, the browser and the playwright driver.
func (b *Browser) Close() error {
	var errs []error
	if b.session != nil {
		if err := b.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.chrome != nil {
		if err := b.chrome.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsInterstitial reports whether markup is the click-through page.
func IsInterstitial(markup string) bool {
	_, source := fetch.Analyze(markup, fetch.DefaultDetectors())
	return source == "interstitial"
}
