package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const maxBodySize = 16 << 20

type DirectOptions struct {
	UserAgents     []string
	AcceptLanguage string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// DirectClient issues plain GET requests, rotating user agents round-robin.
type DirectClient struct {
	opts    DirectOptions
	client  *http.Client
	counter atomic.Uint64
	logger  *slog.Logger
}

func NewDirectClient(opts DirectOptions, logger *slog.Logger) *DirectClient {
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaultAcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DirectClient{
		opts:   opts,
		client: client,
		logger: logger.With("component", "direct_client"),
	}
}

func (c *DirectClient) userAgent() string {
	if len(c.opts.UserAgents) == 0 {
		return ""
	}
	idx := c.counter.Add(1) - 1
	return c.opts.UserAgents[idx%uint64(len(c.opts.UserAgents))]
}

func (c *DirectClient) Fetch(ctx context.Context, target string) (string, error) {
	if err := validateURL(target); err != nil {
		return "", fmt.Errorf("%w: %s", err, target)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if ua := c.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", c.opts.AcceptLanguage)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: status %d", ErrBlocked, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read body: %w", ErrUpstream, err)
	}

	c.logger.Debug("page fetched", "url", target, "status", resp.StatusCode, "length", len(body))
	return string(body), nil
}
