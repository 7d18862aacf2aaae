package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/parser"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	RunID          string
	MaxProducts    int
	Concurrency    int
	RankAttempts   int
	RankRetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxProducts:    10,
		Concurrency:    2,
		RankAttempts:   3,
		RankRetryDelay: 2 * time.Second,
	}
}

// Orchestrator runs the search and enrichment work for single keywords of
// one marketplace.
type Orchestrator struct {
	fetcher fetch.Fetcher
	parser  parser.Parser
	locale  *locale.Locale
	cache   *IdentifierCache
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(f fetch.Fetcher, p parser.Parser, loc *locale.Locale, cache *IdentifierCache, opts Options, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	defaults := DefaultOptions()
	if opts.MaxProducts < 1 {
		opts.MaxProducts = defaults.MaxProducts
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.RankAttempts < 1 {
		opts.RankAttempts = defaults.RankAttempts
	}
	if opts.RankRetryDelay < 0 {
		opts.RankRetryDelay = 0
	}
	if cache == nil {
		cache = NewIdentifierCache()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		fetcher: f,
		parser:  p,
		locale:  loc,
		cache:   cache,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "enrich", "country", loc.Code),
	}
}

// RunKeyword searches keyword, extracts the organic results and enriches up
// to MaxProducts of them with detail page data. The returned run is always
// finalized.
func (o *Orchestrator) RunKeyword(ctx context.Context, keyword string) *models.KeywordRun {
	run := models.NewKeywordRun(uuid.NewString(), keyword, o.locale.Code, o.locale.Domain, o.locale.Currency, o.locale.SearchURL(keyword))
	run.RunID = o.opts.RunID

	logger := o.logger.With("keyword", keyword, "keyword_run_id", run.ID)
	logger.Info("processing keyword", "url", run.SearchURL)

	products, err := o.processKeyword(ctx, keyword, run.SearchURL, logger)
	if err != nil {
		if errors.Is(err, fetch.ErrBlocked) {
			logger.Warn("bot challenge on search page, skipping keyword")
		}
		logger.Error("keyword failed", "error", err)
		run.Fail(err)
	} else {
		run.Finish(products)
		logger.Info("keyword completed",
			"products", run.Total,
			"duplicates", run.Duplicates,
			"ranks_found", run.RanksFound())
	}

	o.metrics.IncKeywordRun(o.locale.Code, string(run.Status))
	return run
}

func (o *Orchestrator) processKeyword(ctx context.Context, keyword, searchURL string, logger *slog.Logger) ([]*models.ProductRecord, error) {
	markup, err := o.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search page: %w", err)
	}

	records, err := o.parser.ExtractListing(markup)
	if err != nil {
		return nil, fmt.Errorf("failed to extract search results: %w", err)
	}

	if len(records) > o.opts.MaxProducts {
		records = records[:o.opts.MaxProducts]
	}
	o.metrics.AddProducts(o.locale.Code, len(records))
	logger.Info("extracted search results", "products", len(records))

	enriched := make([]*models.ProductRecord, len(records))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)

	for i, record := range records {
		g.Go(func() error {
			enriched[i] = o.enrichProduct(ctx, keyword, record, logger)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keyword interrupted: %w", err)
	}

	return enriched, nil
}

func (o *Orchestrator) enrichProduct(ctx context.Context, keyword string, listing *models.ProductRecord, logger *slog.Logger) *models.ProductRecord {
	record := listing
	if listing.ScrapedAt.IsZero() {
		listing.ScrapedAt = time.Now()
	}

	firstKeyword, cached, duplicate := o.cache.Lookup(listing.ASIN)
	if duplicate {
		record = o.reuse(cached, listing, firstKeyword)
		o.metrics.IncDuplicate(o.locale.Code)
		logger.Info("reusing product from earlier keyword", "asin", listing.ASIN, "first_keyword", firstKeyword)
	}

	if ctx.Err() != nil {
		record.EnrichError = ctx.Err().Error()
		return record
	}

	attempt := o.fetchRanks(ctx, record.URL, duplicate)
	record.RankAttempts = attempt.Attempts
	record.SetRanks(attempt.Ranks)

	if !duplicate {
		record.Images = attempt.Images
		if len(record.Images) == 0 && record.Thumbnail != "" {
			record.Images = []string{record.Thumbnail}
		}
	}

	switch attempt.Outcome {
	case RankFound, RankExhausted:
		record.Enriched = true
	case RankFetchFailed:
		record.EnrichError = attempt.Err.Error()
		logger.Warn("detail enrichment failed, keeping listing data", "asin", record.ASIN, "error", attempt.Err)
	}

	logger.Info("product enriched",
		"asin", record.ASIN,
		"rank_status", record.RankStatus,
		"rank_attempts", record.RankAttempts,
		"images", len(record.Images))

	// Only a full enrichment is reused; a degraded record leaves the
	// identifier open for the next sighting.
	if !duplicate && record.Enriched {
		o.cache.Store(record.ASIN, keyword, record)
	}
	return record
}

// reuse builds the record for an identifier already seen under an earlier
// keyword: stable fields come from the first sighting, position and URL from
// the current listing.
func (o *Orchestrator) reuse(first, listing *models.ProductRecord, firstKeyword string) *models.ProductRecord {
	record := first
	record.Title = o.locale.MarkDuplicate(first.Title)
	record.SearchPosition = listing.SearchPosition
	record.URL = listing.URL
	record.Thumbnail = listing.Thumbnail
	record.IsDuplicate = true
	record.DuplicateOfKeyword = firstKeyword
	record.Enriched = false
	record.EnrichError = ""
	record.RankAttempts = 0
	record.SetRanks(nil)
	record.ScrapedAt = listing.ScrapedAt
	return record
}
