package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

type RankOutcome string

const (
	RankFound       RankOutcome = "found"
	RankExhausted   RankOutcome = "exhausted"
	RankFetchFailed RankOutcome = "fetch_failed"
)

// RankAttempt is the result of the bounded rank retry loop for one product.
type RankAttempt struct {
	Outcome  RankOutcome
	Attempts int
	Ranks    []models.RankEntry
	Images   []string
	Err      error
}

// forgetter is implemented by fetchers that cache pages, so a retry reaches
// the upstream again.
type forgetter interface {
	Forget(url string)
}

// fetchRanks fetches and parses the detail page until it yields ranks or the
// attempt budget is spent. Images from the first parsed page are kept. With
// fresh set, a page cached by an earlier sighting is dropped before the first
// attempt so the ranks come from a new fetch.
func (o *Orchestrator) fetchRanks(ctx context.Context, url string, fresh bool) RankAttempt {
	result := RankAttempt{Outcome: RankExhausted}

	for attempt := 1; attempt <= o.opts.RankAttempts; attempt++ {
		if attempt > 1 || fresh {
			o.forget(url)
		}
		if attempt > 1 {
			select {
			case <-ctx.Done():
				result.Outcome = RankFetchFailed
				result.Err = ctx.Err()
				return result
			case <-time.After(o.opts.RankRetryDelay):
			}
		}
		result.Attempts = attempt

		markup, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			result.Outcome = RankFetchFailed
			result.Err = fmt.Errorf("failed to fetch detail page: %w", err)
			o.metrics.IncRankAttempt(string(RankFetchFailed))
			return result
		}

		detail, err := o.parser.ExtractDetail(markup)
		if err != nil {
			result.Outcome = RankFetchFailed
			result.Err = fmt.Errorf("failed to parse detail page: %w", err)
			o.metrics.IncRankAttempt(string(RankFetchFailed))
			return result
		}

		if len(result.Images) == 0 {
			result.Images = detail.Images
		}

		if len(detail.Ranks) > 0 {
			result.Outcome = RankFound
			result.Ranks = detail.Ranks
			o.metrics.IncRankAttempt(string(RankFound))
			return result
		}

		o.metrics.IncRankAttempt("empty")
		o.logger.Debug("no rank on detail page", "url", url, "attempt", attempt)
	}

	o.metrics.IncRankAttempt(string(RankExhausted))
	return result
}

func (o *Orchestrator) forget(url string) {
	if f, ok := o.fetcher.(forgetter); ok {
		f.Forget(url)
	}
}
