package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-rank-scraper/internal/enrich"
	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/parser"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
)

var ErrNoKeywords = errors.New("no keywords to process")

// Coordinator processes keyword lists for one marketplace, one keyword at a
// time, and hands every result to its sink.
type Coordinator struct {
	fetcher fetch.Fetcher
	parser  parser.Parser
	locale  *locale.Locale
	sink    storage.Sink
	opts    enrich.Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(f fetch.Fetcher, p parser.Parser, loc *locale.Locale, sink storage.Sink, opts enrich.Options, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = storage.MultiSink{}
	}

	return &Coordinator{
		fetcher: f,
		parser:  p,
		locale:  loc,
		sink:    sink,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "runner", "country", loc.Code),
	}
}

func (c *Coordinator) Locale() *locale.Locale {
	return c.locale
}

// Run processes keywords in order. A failing keyword is recorded and the run
// moves on; only cancellation of ctx stops it early, in which case the
// partial result is returned together with the context error.
func (c *Coordinator) Run(ctx context.Context, keywords []string) (*models.RunResult, error) {
	keywords = normalizeKeywords(keywords)
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	opts := c.opts
	opts.RunID = uuid.NewString()
	orchestrator := enrich.New(c.fetcher, c.parser, c.locale, enrich.NewIdentifierCache(), opts, c.metrics, c.logger)

	result := &models.RunResult{
		Summary: models.RunSummary{
			RunID:     opts.RunID,
			Country:   c.locale.Code,
			StartedAt: time.Now(),
		},
		Runs: make([]*models.KeywordRun, 0, len(keywords)),
	}

	logger := c.logger.With("run_id", opts.RunID)
	logger.Info("starting run", "keywords", len(keywords), "domain", c.locale.Domain)

	for i, keyword := range keywords {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", "remaining", len(keywords)-i)
			break
		}

		logger.Info("keyword", "index", i+1, "of", len(keywords), "keyword", keyword)

		run := orchestrator.RunKeyword(ctx, keyword)
		result.Runs = append(result.Runs, run)
		result.Summary.Add(run)

		if err := c.sink.SaveKeywordRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Error("failed to save keyword run", "keyword", keyword, "error", err)
		}
	}

	finished := time.Now()
	result.Summary.FinishedAt = &finished

	if err := c.sink.SaveRunResult(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("failed to save run result", "error", err)
	}

	sum := result.Summary
	logger.Info("run completed",
		"keywords", sum.KeywordsTotal,
		"succeeded", sum.KeywordsSucceeded,
		"failed", sum.KeywordsFailed,
		"products", sum.ProductsTotal,
		"duplicates", sum.Duplicates,
		"ranks_found", sum.RanksFound,
		"success_rate", fmt.Sprintf("%.1f%%", sum.SuccessRate()*100),
		"duration", finished.Sub(sum.StartedAt).Round(time.Second))

	return result, ctx.Err()
}

// normalizeKeywords trims keywords and drops blanks and repeats, keeping order.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
