package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultScraperAPIURL  = "http://api.scraperapi.com/"
	defaultFirecrawlURL   = "https://api.firecrawl.dev/v1/scrape"
	defaultAcceptLanguage = "en-US,en;q=0.9"
	defaultRenderTimeout  = 90 * time.Second
)

type RenderOptions struct {
	ScraperAPIKey  string
	ScraperAPIURL  string
	FirecrawlKey   string
	FirecrawlURL   string
	CountryCode    string
	AcceptLanguage string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// RenderClient fetches pages through a proxy render URL that is itself
// scraped by a rendering service returning the final HTML.
type RenderClient struct {
	opts   RenderOptions
	client *http.Client
	logger *slog.Logger
}

type renderRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type renderResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		HTML string `json:"html"`
	} `json:"data"`
}

func NewRenderClient(opts RenderOptions, logger *slog.Logger) *RenderClient {
	if opts.ScraperAPIURL == "" {
		opts.ScraperAPIURL = defaultScraperAPIURL
	}
	if opts.FirecrawlURL == "" {
		opts.FirecrawlURL = defaultFirecrawlURL
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaultAcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRenderTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RenderClient{
		opts:   opts,
		client: client,
		logger: logger.With("component", "render_client"),
	}
}

// ProxyURL wraps a target page into the render proxy URL.
func (c *RenderClient) ProxyURL(target string) string {
	params := url.Values{}
	params.Set("api_key", c.opts.ScraperAPIKey)
	params.Set("url", target)
	params.Set("render", "true")
	params.Set("country_code", c.opts.CountryCode)
	params.Set("custom_headers", "true")
	params.Set("accept_language", c.opts.AcceptLanguage)

	return c.opts.ScraperAPIURL + "?" + params.Encode()
}

func (c *RenderClient) Fetch(ctx context.Context, target string) (string, error) {
	if err := validateURL(target); err != nil {
		return "", fmt.Errorf("%w: %s", err, target)
	}

	body, err := json.Marshal(renderRequest{
		URL:     c.ProxyURL(target),
		Formats: []string{"html"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode render request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.FirecrawlURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.FirecrawlKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("render request timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var payload renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: failed to decode render response: %w", ErrUpstream, err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUpstream, payload.Error)
	}

	c.logger.Debug("page rendered", "url", target, "length", len(payload.Data.HTML))
	return payload.Data.HTML, nil
}
