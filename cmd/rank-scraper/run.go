package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/amazon-rank-scraper/internal/app"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/runner"
	"github.com/maltedev/amazon-rank-scraper/pkg/logger"
	"github.com/urfave/cli/v2"
)

func newLogger(c *cli.Context, cfg *config.Config) *slog.Logger {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if v := c.String("log-level"); v != "" {
		level = v
	}
	if v := c.String("log-format"); v != "" {
		format = v
	}
	l := logger.New(level, format)
	slog.SetDefault(l)
	return l
}

// applyRunFlags overlays flags and the keyword file onto cfg and returns the
// marketplaces and keywords to run.
func applyRunFlags(c *cli.Context, cfg *config.Config) ([]string, []string, error) {
	var codes, keywords []string

	if path := c.String("file"); path != "" {
		kf, err := config.LoadKeywordFile(path)
		if err != nil {
			return nil, nil, err
		}
		kf.Apply(cfg)
		codes = kf.CountryCodes()
		keywords = kf.Keywords
	}

	if flagCodes := c.StringSlice("country"); len(flagCodes) > 0 {
		codes = flagCodes
	}
	keywords = append(keywords, c.StringSlice("keyword")...)
	keywords = append(keywords, c.Args().Slice()...)

	if c.IsSet("max-products") {
		cfg.Enrichment.MaxProducts = c.Int("max-products")
	}
	if c.IsSet("concurrency") {
		cfg.Enrichment.Concurrency = c.Int("concurrency")
	}
	if v := c.String("provider"); v != "" {
		cfg.Fetch.Provider = v
	}
	if v := c.String("output-dir"); v != "" {
		cfg.Output.Dir = v
	}
	if v := c.String("sqlite"); v != "" {
		cfg.Output.SQLitePath = v
	}
	if c.Bool("root-rank-fallback") {
		cfg.Enrichment.RootRankFallback = true
	}

	if len(codes) == 0 {
		codes = []string{cfg.Enrichment.Country}
	}
	for i, code := range codes {
		codes[i] = strings.ToLower(strings.TrimSpace(code))
	}
	cfg.Enrichment.Country = codes[0]

	if len(keywords) == 0 {
		return nil, nil, runner.ErrNoKeywords
	}

	return codes, keywords, nil
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	codes, keywords, err := applyRunFlags(c, cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(c, cfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No metrics endpoint in one-off runs.
	stack, err := app.NewStack(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("failed to close resources", "error", err)
		}
	}()

	sinks, err := stack.Sinks("")
	if err != nil {
		return err
	}

	factory := func(loc *locale.Locale) (*runner.Coordinator, error) {
		return stack.Coordinator(loc, 0, sinks)
	}

	results, runErr := runner.RunCountries(ctx, codes, keywords, factory, log)
	printSummary(os.Stdout, results)

	if errors.Is(runErr, context.Canceled) {
		log.Warn("run interrupted, partial results were saved")
		return nil
	}
	return runErr
}
