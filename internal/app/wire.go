package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/maltedev/amazon-rank-scraper/internal/browser"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/database"
	"github.com/maltedev/amazon-rank-scraper/internal/enrich"
	"github.com/maltedev/amazon-rank-scraper/internal/events"
	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/maltedev/amazon-rank-scraper/internal/parser"
	"github.com/maltedev/amazon-rank-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-rank-scraper/internal/runner"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
	"github.com/maltedev/amazon-rank-scraper/internal/storage/sqlite"
)

// Stack holds the shared, long-lived pieces of a process: the rate limiter,
// metrics, the optional postgres pool and the sinks built from config.
type Stack struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Limiter *ratelimit.AdaptiveRateLimiter
	DB      *database.DB
	Logger  *slog.Logger

	mu        sync.Mutex
	providers map[string]fetch.Fetcher
	closers   []io.Closer
}

func NewStack(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Stack, error) {
	s := &Stack{
		Config:  cfg,
		Metrics: m,
		Limiter: ratelimit.NewAdaptiveRateLimiter(cfg.Fetch.RateLimit, cfg.Fetch.RateBurst),
		Logger:  logger,

		providers: make(map[string]fetch.Fetcher),
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database, database.DefaultPoolOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s.DB = db
	}

	return s, nil
}

// Close releases browsers, sinks and the database pool.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return errors.Join(errs...)
}

// Fetcher builds the fetch chain for a marketplace: the configured provider,
// wrapped in validation and retries, optionally behind a page cache. The
// provider is shared per marketplace; the cache is not.
func (s *Stack) Fetcher(loc *locale.Locale) (fetch.Fetcher, error) {
	cfg := s.Config.Fetch

	base, err := s.provider(loc)
	if err != nil {
		return nil, err
	}

	var f fetch.Fetcher = fetch.NewRetrying(base, fetch.RetryOptions{
		Attempts:  cfg.MaxRetries,
		Backoff:   cfg.RetryBackoff,
		MinLength: cfg.MinResponseLength,
		Limiter:   s.Limiter,
		Metrics:   s.Metrics,
		Logger:    s.Logger,
	})

	if cfg.CacheSize > 0 {
		cached, err := fetch.NewCached(f, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		f = cached
	}

	return f, nil
}

func (s *Stack) provider(loc *locale.Locale) (fetch.Fetcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.providers[loc.Code]; ok {
		return f, nil
	}

	cfg := s.Config.Fetch

	var base fetch.Fetcher
	switch cfg.Provider {
	case config.ProviderRender:
		base = fetch.NewRenderClient(fetch.RenderOptions{
			ScraperAPIKey:  cfg.ScraperAPIKey,
			ScraperAPIURL:  cfg.ScraperAPIURL,
			FirecrawlKey:   cfg.FirecrawlKey,
			FirecrawlURL:   cfg.FirecrawlURL,
			CountryCode:    loc.CountryCode,
			AcceptLanguage: loc.AcceptLanguage,
			Timeout:        cfg.Timeout,
		}, s.Logger)
	case config.ProviderDirect:
		base = fetch.NewDirectClient(fetch.DirectOptions{
			UserAgents:     cfg.UserAgents,
			AcceptLanguage: loc.AcceptLanguage,
			Timeout:        cfg.Timeout,
		}, s.Logger)
	case config.ProviderBrowser:
		opts := browser.OptionsFor(loc)
		opts.Headless = s.Config.Browser.Headless
		opts.Timeout = s.Config.Browser.Timeout
		opts.ViewportWidth = s.Config.Browser.ViewportWidth
		opts.ViewportHeight = s.Config.Browser.ViewportHeight
		b, err := browser.New(opts, s.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		s.closers = append(s.closers, b)
		base = b
	default:
		return nil, fmt.Errorf("unknown fetch provider %q", cfg.Provider)
	}

	s.providers[loc.Code] = base
	return base, nil
}

// Sinks builds the sinks enabled in config. JSON files are always written;
// sqlite and postgres are optional. With redis enabled, postgres writes go
// through the event publisher so every keyword run also lands in the outbox.
func (s *Stack) Sinks(outputDir string) (storage.MultiSink, error) {
	if outputDir == "" {
		outputDir = s.Config.Output.Dir
	}
	sinks := storage.MultiSink{storage.NewJSONSink(outputDir)}

	if path := s.Config.Output.SQLitePath; path != "" {
		db, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.closers = append(s.closers, db)
		s.mu.Unlock()
		sinks = append(sinks, db)
	}

	if s.DB != nil {
		if s.Config.Redis.Enabled {
			sinks = append(sinks, events.NewPublisher(s.DB, s.Config.Redis.Stream, s.Logger))
		} else {
			sinks = append(sinks, database.NewRunRepository(s.DB))
		}
	}

	return sinks, nil
}

// Coordinator wires a run coordinator for loc writing to sink.
func (s *Stack) Coordinator(loc *locale.Locale, maxProducts int, sink storage.Sink) (*runner.Coordinator, error) {
	f, err := s.Fetcher(loc)
	if err != nil {
		return nil, err
	}

	e := s.Config.Enrichment
	if maxProducts < 1 {
		maxProducts = e.MaxProducts
	}

	p := parser.NewAmazonParser(loc, parser.Options{RootRankFallback: e.RootRankFallback})
	opts := enrich.Options{
		MaxProducts:    maxProducts,
		Concurrency:    e.Concurrency,
		RankAttempts:   e.RankAttempts,
		RankRetryDelay: e.RankRetryDelay,
	}

	return runner.New(f, p, loc, sink, opts, s.Metrics, s.Logger), nil
}
