package fetch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrBlocked       = errors.New("blocked by bot challenge")
	ErrRateLimited   = errors.New("rate limited by upstream")
	ErrShortResponse = errors.New("response shorter than minimum length")
	ErrInvalidURL    = errors.New("invalid target URL")
	ErrUpstream      = errors.New("upstream request failed")
)

// DefaultMinLength is the markup size below which a page is treated as an
// error or empty response.
const DefaultMinLength = 1000

// Fetcher returns the raw markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type FetcherFunc func(ctx context.Context, url string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// Check rejects markup that is too short or is a bot challenge page.
func Check(markup string, minLength int) error {
	if len(strings.TrimSpace(markup)) < minLength {
		return ErrShortResponse
	}
	if detected, _ := Analyze(markup, DefaultDetectors()); detected {
		return ErrBlocked
	}
	return nil
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidURL) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Classify maps an error to a low-cardinality label for metrics and logs.
func Classify(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrShortResponse):
		return "short_response"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, ErrUpstream) {
		return "upstream"
	}
	return "other"
}
