package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/maltedev/amazon-rank-scraper/internal/ratelimit"
)

type RetryOptions struct {
	Attempts  int
	Backoff   time.Duration
	MinLength int
	Limiter   ratelimit.RateLimiter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Retrying validates each response and retries failed fetches with
// exponential backoff (Backoff, 2*Backoff, ...).
type Retrying struct {
	next Fetcher
	opts RetryOptions
	log  *slog.Logger
}

func NewRetrying(next Fetcher, opts RetryOptions) *Retrying {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrying{
		next: next,
		opts: opts,
		log:  logger.With("component", "fetch"),
	}
}

func (r *Retrying) Fetch(ctx context.Context, url string) (string, error) {
	start := time.Now()
	kind := pageKind(url)

	markup, err := r.fetch(ctx, url)

	r.opts.Metrics.ObserveFetch(kind, Classify(err), time.Since(start))
	return markup, err
}

func (r *Retrying) fetch(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		if attempt > 1 {
			wait := r.opts.Backoff << (attempt - 2)
			r.log.Info("retrying fetch", "url", url, "attempt", attempt, "wait", wait)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		markup, err := r.next.Fetch(ctx, url)
		if err == nil {
			err = Check(markup, r.opts.MinLength)
		}
		r.feedback(err)

		if err == nil {
			return markup, nil
		}

		lastErr = err
		r.log.Warn("fetch attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", r.opts.Attempts,
			"reason", Classify(err),
			"error", err)

		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	return "", fmt.Errorf("failed to fetch %s after %d attempts: %w", url, r.opts.Attempts, lastErr)
}

func (r *Retrying) feedback(err error) {
	fb, ok := r.opts.Limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	switch {
	case err == nil:
		fb.RecordSuccess()
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrBlocked):
		fb.RecordError()
	}
}

func pageKind(url string) string {
	switch {
	case strings.Contains(url, "/dp/"):
		return "detail"
	case strings.Contains(url, "/s?"):
		return "listing"
	default:
		return "other"
	}
}
